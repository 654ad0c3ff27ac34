package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/velux-bridge/internal/device"
)

// Status payloads on {prefix}/status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Severity levels for error records.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// ErrorRecord is the JSON document published on {prefix}/errors.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
}

// NewClientID builds the per-run broker client identifier.
// Brokers drop the older of two clients sharing an ID, so the suffix is a
// millisecond timestamp unique per process start.
func NewClientID(prefix string) string {
	return fmt.Sprintf("%s-plugin-%d", prefix, time.Now().UnixMilli())
}

// devicePayload serialises the retained device state document.
// Field names are fixed wire schema; see the device package.
func devicePayload(d device.Device) ([]byte, error) {
	d.LastUpdate = d.LastUpdate.UTC()
	return json.Marshal(d)
}

// scenePayload serialises the retained scene state document.
func scenePayload(s device.Scene) ([]byte, error) {
	return json.Marshal(s)
}

// errorPayload serialises an error record.
func errorPayload(severity, component, message string, details any) ([]byte, error) {
	return json.Marshal(ErrorRecord{
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Component: component,
		Message:   message,
		Details:   details,
	})
}
