package velux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Gateway API command identifiers. Requests confirm with the REQ+1 command;
// notifications arrive unsolicited.
const (
	cmdErrorNTF               uint16 = 0x0000
	cmdGetStateREQ            uint16 = 0x000C
	cmdGetStateCFM            uint16 = 0x000D
	cmdGetAllNodesREQ         uint16 = 0x0202
	cmdGetAllNodesCFM         uint16 = 0x0203
	cmdGetAllNodesNTF         uint16 = 0x0204
	cmdGetAllNodesFinishedNTF uint16 = 0x0205
	cmdNodeStateChangedNTF    uint16 = 0x0211
	cmdHouseMonitorEnableREQ  uint16 = 0x0240
	cmdHouseMonitorEnableCFM  uint16 = 0x0241
	cmdCommandSendREQ         uint16 = 0x0300
	cmdCommandSendCFM         uint16 = 0x0301
	cmdCommandRunStatusNTF    uint16 = 0x0302
	cmdSessionFinishedNTF     uint16 = 0x0304
	cmdGetSceneInfoREQ        uint16 = 0x0400
	cmdGetSceneInfoCFM        uint16 = 0x0401
	cmdGetSceneInfoNTF        uint16 = 0x0402
	cmdGetSceneListREQ        uint16 = 0x040C
	cmdGetSceneListCFM        uint16 = 0x040D
	cmdGetSceneListNTF        uint16 = 0x040E
	cmdActivateSceneREQ       uint16 = 0x0412
	cmdActivateSceneCFM       uint16 = 0x0413
	cmdPasswordEnterREQ       uint16 = 0x3000
	cmdPasswordEnterCFM       uint16 = 0x3001
)

// Position wire encoding: unsigned 16-bit where 0x0000 is fully open and
// 0xC800 (51200) is fully closed. Values above the span are flags.
const (
	posSpan    = 0xC800
	posCurrent = 0xD200 // "hold current position", used as the stop target
	posUnknown = 0xF7FF
)

// Node state byte values from node information and state-change frames.
const (
	nodeStateOnline    = 1 // the gateway's "operational" state
	nodeStateExecuting = 4
)

// passwordLength is the fixed password field size; shorter passwords are
// zero padded, longer ones rejected by the gateway.
const passwordLength = 32

// rawToWire converts a raw position (0.0 open .. 1.0 closed) to the wire
// encoding, clamping into the valid span.
func rawToWire(raw float64) uint16 {
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	return uint16(raw*posSpan + 0.5)
}

// wireToRaw converts a wire position to the raw scale.
// The second return is false for flag values (unknown, current, ...).
func wireToRaw(v uint16) (float64, bool) {
	if v > posSpan {
		return 0, false
	}
	return float64(v) / posSpan, true
}

// buildPasswordEnter builds the login request payload.
func buildPasswordEnter(password string) ([]byte, error) {
	if len(password) > passwordLength {
		return nil, fmt.Errorf("%w: password exceeds %d bytes", ErrAuthFailed, passwordLength)
	}
	data := make([]byte, passwordLength)
	copy(data, password)
	return data, nil
}

// nodeInfo is the parsed body of a node information notification.
type nodeInfo struct {
	NodeID       int
	Name         string
	NodeType     int // actuator type: high 6 bits of the node type field
	ProductType  int
	SerialNumber string
	State        int
	CurrentPos   uint16
	TargetPos    uint16
}

// nodeInfoSize is the fixed size of a GW_GET_ALL_NODES_INFORMATION_NTF body.
const nodeInfoSize = 124

// parseNodeInfo decodes one node information notification.
//
// Body layout: NodeID(1) Order(2) Placement(1) Name(64) Velocity(1)
// NodeTypeSubType(2) ProductGroup(1) ProductType(1) NodeVariation(1)
// PowerMode(1) BuildNumber(1) SerialNumber(8) State(1) CurrentPosition(2)
// Target(2) FP1-FP4(8) RemainingTime(2) TimeStamp(4) NbrOfAlias(1)
// AliasArray(20).
func parseNodeInfo(data []byte) (nodeInfo, error) {
	if len(data) < nodeInfoSize {
		return nodeInfo{}, fmt.Errorf("%w: node info %d bytes", ErrBadFrame, len(data))
	}

	typeSubType := binary.BigEndian.Uint16(data[69:71])

	return nodeInfo{
		NodeID:       int(data[0]),
		Name:         decodeName(data[4:68]),
		NodeType:     int(typeSubType >> 6),
		ProductType:  int(data[72]),
		SerialNumber: strings.ToUpper(fmt.Sprintf("%x", data[76:84])),
		State:        int(data[84]),
		CurrentPos:   binary.BigEndian.Uint16(data[85:87]),
		TargetPos:    binary.BigEndian.Uint16(data[87:89]),
	}, nil
}

// nodeStateChange is the parsed body of a node state-change notification.
type nodeStateChange struct {
	NodeID     int
	State      int
	CurrentPos uint16
	TargetPos  uint16
}

// nodeStateChangeSize is the fixed size of a
// GW_NODE_STATE_POSITION_CHANGED_NTF body: NodeID(1) State(1)
// CurrentPosition(2) Target(2) FP1-FP4(8) RemainingTime(2) TimeStamp(4).
const nodeStateChangeSize = 20

func parseNodeStateChange(data []byte) (nodeStateChange, error) {
	if len(data) < nodeStateChangeSize {
		return nodeStateChange{}, fmt.Errorf("%w: state change %d bytes", ErrBadFrame, len(data))
	}
	return nodeStateChange{
		NodeID:     int(data[0]),
		State:      int(data[1]),
		CurrentPos: binary.BigEndian.Uint16(data[2:4]),
		TargetPos:  binary.BigEndian.Uint16(data[4:6]),
	}, nil
}

// runStatus is the parsed body of a command run-status notification.
type runStatus struct {
	SessionID   uint16
	StatusOwner int
	NodeID      int
	Parameter   uint16
	RunStatus   int // 0 completed, 1 failed, 2 active
	StatusReply int
}

// runStatusSize: SessionID(2) StatusID(1) Index(1) NodeParameter(1)
// ParameterValue(2) RunStatus(1) StatusReply(1) InformationCode(4).
const runStatusSize = 13

func parseRunStatus(data []byte) (runStatus, error) {
	if len(data) < runStatusSize {
		return runStatus{}, fmt.Errorf("%w: run status %d bytes", ErrBadFrame, len(data))
	}
	return runStatus{
		SessionID:   binary.BigEndian.Uint16(data[0:2]),
		StatusOwner: int(data[2]),
		NodeID:      int(data[3]),
		Parameter:   binary.BigEndian.Uint16(data[5:7]),
		RunStatus:   int(data[7]),
		StatusReply: int(data[8]),
	}, nil
}

// buildCommandSend builds a GW_COMMAND_SEND_REQ payload driving a single
// node's main parameter to target.
//
// Layout: SessionID(2) CommandOriginator(1) PriorityLevel(1)
// ParameterActive(1) FPI1(1) FPI2(1) MainParameter(2) FP1-FP16(32)
// IndexArrayCount(1) IndexArray(20) PriorityLevelLock(1) PL03(1) PL47(1)
// LockTime(1).
func buildCommandSend(sessionID uint16, nodeID int, target uint16) []byte {
	const (
		originatorUser    = 1
		priorityUserLevel = 3
	)

	data := make([]byte, 66)
	binary.BigEndian.PutUint16(data[0:2], sessionID)
	data[2] = originatorUser
	data[3] = priorityUserLevel
	// ParameterActive 0: main parameter. FPI bitmasks stay zero.
	binary.BigEndian.PutUint16(data[7:9], target)
	data[41] = 1 // one index
	data[42] = byte(nodeID)
	return data
}

// buildActivateScene builds a GW_ACTIVATE_SCENE_REQ payload.
// Layout: SessionID(2) CommandOriginator(1) PriorityLevel(1) SceneID(1)
// Velocity(1).
func buildActivateScene(sessionID uint16, sceneID int) []byte {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data[0:2], sessionID)
	data[2] = 1 // user
	data[3] = 3 // user priority level
	data[4] = byte(sceneID)
	return data
}

// sceneListEntry is one scene from a scene list notification.
type sceneListEntry struct {
	SceneID int
	Name    string
}

// parseSceneList decodes a GW_GET_SCENE_LIST_NTF body.
//
// Layout: NumberOfObject(1) {SceneID(1) Name(64)}*N
// RemainingNumberOfObject(1). remaining tells the caller whether more
// notification frames follow.
func parseSceneList(data []byte) (entries []sceneListEntry, remaining int, err error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("%w: empty scene list", ErrBadFrame)
	}
	count := int(data[0])
	const entrySize = 65
	want := 1 + count*entrySize + 1
	if len(data) < want {
		return nil, 0, fmt.Errorf("%w: scene list %d bytes, want %d", ErrBadFrame, len(data), want)
	}

	entries = make([]sceneListEntry, 0, count)
	off := 1
	for i := 0; i < count; i++ {
		entries = append(entries, sceneListEntry{
			SceneID: int(data[off]),
			Name:    decodeName(data[off+1 : off+entrySize]),
		})
		off += entrySize
	}
	return entries, int(data[off]), nil
}

// sceneInfo is the parsed body of a scene information notification.
type sceneInfo struct {
	SceneID   int
	Name      string
	NodeCount int
	Remaining int
}

// parseSceneInfo decodes a GW_GET_SCENE_INFORMATION_NTF body.
//
// Layout: SceneID(1) Name(64) NbrOfObjects(1)
// {NodeID(1) ParameterID(1) Position(2)}*N RemainingNbrOfObjects(1).
func parseSceneInfo(data []byte) (sceneInfo, error) {
	if len(data) < 66 {
		return sceneInfo{}, fmt.Errorf("%w: scene info %d bytes", ErrBadFrame, len(data))
	}
	count := int(data[65])
	const nodeSize = 4
	want := 66 + count*nodeSize + 1
	if len(data) < want {
		return sceneInfo{}, fmt.Errorf("%w: scene info %d bytes, want %d", ErrBadFrame, len(data), want)
	}
	return sceneInfo{
		SceneID:   int(data[0]),
		Name:      decodeName(data[1:65]),
		NodeCount: count,
		Remaining: int(data[66+count*nodeSize]),
	}, nil
}

// gatewayErrorText maps GW_ERROR_NTF codes to text.
var gatewayErrorText = map[int]string{
	0:  "unspecified error",
	1:  "unknown command",
	2:  "malformed frame",
	7:  "gateway busy",
	8:  "bad system table index",
	12: "not authenticated",
}

// errorNTFText resolves a gateway error notification code.
func errorNTFText(code int) string {
	if text, ok := gatewayErrorText[code]; ok {
		return text
	}
	return fmt.Sprintf("error code %d", code)
}

// decodeName turns a zero-padded UTF-8 name field into a string.
func decodeName(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
