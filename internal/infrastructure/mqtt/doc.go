// Package mqtt provides the message-bus client for the bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, re-established on reconnect
//   - Last Will and Testament (LWT) configured by the caller
//   - Connection health monitoring
//
// It is a thin, policy-free wrapper around paho.mqtt.golang: topic naming,
// payload formats and the status/LWT contract live in the bridge package.
//
// # Usage
//
//	client, err := mqtt.Connect(mqtt.Options{
//	    Broker:   brokerCfg,
//	    ClientID: "klf200-plugin-1712",
//	    Will:     &mqtt.Will{Topic: "klf200/status", Payload: "offline", Retained: true, QoS: 1},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
