package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Topics builds and parses the bridge's bus topics for one prefix.
type Topics struct {
	Prefix string
}

// Status returns the bridge status topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Errors returns the error stream topic.
func (t Topics) Errors() string {
	return t.Prefix + "/errors"
}

// DeviceState returns the device state topic for a node.
func (t Topics) DeviceState(nodeID int) string {
	return fmt.Sprintf("%s/devices/%d/state", t.Prefix, nodeID)
}

// DevicePosition returns the bare position topic for a node.
func (t Topics) DevicePosition(nodeID int) string {
	return fmt.Sprintf("%s/devices/%d/position", t.Prefix, nodeID)
}

// DeviceMoving returns the movement flag topic for a node.
func (t Topics) DeviceMoving(nodeID int) string {
	return fmt.Sprintf("%s/devices/%d/moving", t.Prefix, nodeID)
}

// SceneState returns the scene state topic.
func (t Topics) SceneState(sceneID int) string {
	return fmt.Sprintf("%s/scenes/%d/state", t.Prefix, sceneID)
}

// Subscription patterns for inbound topics.

// DeviceCmdPattern matches every node's command topic.
func (t Topics) DeviceCmdPattern() string {
	return t.Prefix + "/devices/+/cmd"
}

// PositionSetPattern matches every node's dedicated position topic.
func (t Topics) PositionSetPattern() string {
	return t.Prefix + "/devices/+/position/set"
}

// SceneCmdPattern matches every scene's command topic.
func (t Topics) SceneCmdPattern() string {
	return t.Prefix + "/scenes/+/cmd"
}

// GlobalCmd returns the global command topic.
func (t Topics) GlobalCmd() string {
	return t.Prefix + "/cmd"
}

// RouteKind classifies a parsed inbound topic.
type RouteKind int

// Inbound route kinds.
const (
	RouteUnknown RouteKind = iota
	RouteDeviceCmd
	RoutePositionSet
	RouteSceneCmd
	RouteGlobalCmd
)

// Route is a parsed inbound topic.
type Route struct {
	Kind RouteKind
	ID   int // node or scene ID; unused for global commands
}

// Parse matches a topic against the inbound map. Matching is exact and
// anchored: every segment must line up and IDs must be decimal integers.
func (t Topics) Parse(topic string) Route {
	if topic == t.GlobalCmd() {
		return Route{Kind: RouteGlobalCmd}
	}

	if !strings.HasPrefix(topic, t.Prefix+"/") {
		return Route{Kind: RouteUnknown}
	}
	parts := strings.Split(topic[len(t.Prefix)+1:], "/")

	switch {
	case len(parts) == 3 && parts[0] == "devices" && parts[2] == "cmd":
		if id, ok := parseID(parts[1]); ok {
			return Route{Kind: RouteDeviceCmd, ID: id}
		}
	case len(parts) == 4 && parts[0] == "devices" && parts[2] == "position" && parts[3] == "set":
		if id, ok := parseID(parts[1]); ok {
			return Route{Kind: RoutePositionSet, ID: id}
		}
	case len(parts) == 3 && parts[0] == "scenes" && parts[2] == "cmd":
		if id, ok := parseID(parts[1]); ok {
			return Route{Kind: RouteSceneCmd, ID: id}
		}
	}
	return Route{Kind: RouteUnknown}
}

func parseID(s string) (int, bool) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
