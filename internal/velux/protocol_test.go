package velux

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestPositionWireConversion(t *testing.T) {
	tests := []struct {
		raw  float64
		wire uint16
	}{
		{0.0, 0x0000},
		{1.0, 0xC800},
		{0.5, 0x6400},
	}
	for _, tt := range tests {
		if got := rawToWire(tt.raw); got != tt.wire {
			t.Errorf("rawToWire(%v) = 0x%04X, want 0x%04X", tt.raw, got, tt.wire)
		}
		raw, ok := wireToRaw(tt.wire)
		if !ok || raw != tt.raw {
			t.Errorf("wireToRaw(0x%04X) = %v, %v, want %v, true", tt.wire, raw, ok, tt.raw)
		}
	}

	// Flag values carry no position.
	for _, v := range []uint16{posCurrent, posUnknown, 0xC801} {
		if _, ok := wireToRaw(v); ok {
			t.Errorf("wireToRaw(0x%04X) ok = true, want false", v)
		}
	}

	// Out-of-range raw values clamp.
	if got := rawToWire(-0.5); got != 0 {
		t.Errorf("rawToWire(-0.5) = 0x%04X, want 0", got)
	}
	if got := rawToWire(1.5); got != posSpan {
		t.Errorf("rawToWire(1.5) = 0x%04X, want 0x%04X", got, uint16(posSpan))
	}
}

func TestBuildPasswordEnter(t *testing.T) {
	data, err := buildPasswordEnter("velux123")
	if err != nil {
		t.Fatalf("buildPasswordEnter() error: %v", err)
	}
	if len(data) != passwordLength {
		t.Fatalf("payload length = %d, want %d", len(data), passwordLength)
	}
	if string(data[:8]) != "velux123" {
		t.Errorf("payload prefix = %q", data[:8])
	}
	for _, b := range data[8:] {
		if b != 0 {
			t.Fatal("password padding must be zero")
		}
	}

	long := make([]byte, passwordLength+1)
	if _, err := buildPasswordEnter(string(long)); err == nil {
		t.Error("oversized password must be rejected")
	}
}

// buildNodeInfoData constructs a node information notification body.
func buildNodeInfoData(nodeID int, name string, typeCode, productType int, state int, cur, tgt uint16) []byte {
	data := make([]byte, nodeInfoSize)
	data[0] = byte(nodeID)
	copy(data[4:68], name)
	binary.BigEndian.PutUint16(data[69:71], uint16(typeCode)<<6)
	data[72] = byte(productType)
	copy(data[76:84], []byte{0x0A, 0x1B, 0x2C, 0x3D, 0x4E, 0x5F, 0x07, 0x08})
	data[84] = byte(state)
	binary.BigEndian.PutUint16(data[85:87], cur)
	binary.BigEndian.PutUint16(data[87:89], tgt)
	return data
}

func TestParseNodeInfo(t *testing.T) {
	data := buildNodeInfoData(5, "Kitchen", 4, 7, nodeStateOnline, 0x6400, 0x0000)

	info, err := parseNodeInfo(data)
	if err != nil {
		t.Fatalf("parseNodeInfo() error: %v", err)
	}
	if info.NodeID != 5 {
		t.Errorf("NodeID = %d, want 5", info.NodeID)
	}
	if info.Name != "Kitchen" {
		t.Errorf("Name = %q, want Kitchen", info.Name)
	}
	if info.NodeType != 4 {
		t.Errorf("NodeType = %d, want 4", info.NodeType)
	}
	if info.ProductType != 7 {
		t.Errorf("ProductType = %d, want 7", info.ProductType)
	}
	if info.SerialNumber != "0A1B2C3D4E5F0708" {
		t.Errorf("SerialNumber = %q", info.SerialNumber)
	}
	if info.State != nodeStateOnline {
		t.Errorf("State = %d, want %d", info.State, nodeStateOnline)
	}
	if info.CurrentPos != 0x6400 || info.TargetPos != 0x0000 {
		t.Errorf("positions = 0x%04X/0x%04X", info.CurrentPos, info.TargetPos)
	}
}

func TestParseNodeInfoTooShort(t *testing.T) {
	if _, err := parseNodeInfo(make([]byte, 10)); !errors.Is(err, ErrBadFrame) {
		t.Errorf("parseNodeInfo() error = %v, want ErrBadFrame", err)
	}
}

func TestParseNodeStateChange(t *testing.T) {
	data := make([]byte, nodeStateChangeSize)
	data[0] = 9
	data[1] = nodeStateExecuting
	binary.BigEndian.PutUint16(data[2:4], 0x3200)
	binary.BigEndian.PutUint16(data[4:6], 0x0000)

	change, err := parseNodeStateChange(data)
	if err != nil {
		t.Fatalf("parseNodeStateChange() error: %v", err)
	}
	if change.NodeID != 9 || change.State != nodeStateExecuting {
		t.Errorf("parsed = %+v", change)
	}
	if change.CurrentPos != 0x3200 || change.TargetPos != 0x0000 {
		t.Errorf("positions = 0x%04X/0x%04X", change.CurrentPos, change.TargetPos)
	}
}

func TestParseRunStatus(t *testing.T) {
	data := make([]byte, runStatusSize)
	binary.BigEndian.PutUint16(data[0:2], 42) // session
	data[3] = 7                               // node
	binary.BigEndian.PutUint16(data[5:7], 0x6400)
	data[7] = 2    // active
	data[8] = 0x0F // thermal protection

	status, err := parseRunStatus(data)
	if err != nil {
		t.Fatalf("parseRunStatus() error: %v", err)
	}
	if status.SessionID != 42 || status.NodeID != 7 {
		t.Errorf("parsed = %+v", status)
	}
	if status.RunStatus != 2 || status.StatusReply != 0x0F {
		t.Errorf("run status = %d, reply = 0x%02X", status.RunStatus, status.StatusReply)
	}
}

func TestBuildCommandSend(t *testing.T) {
	data := buildCommandSend(0x0102, 3, 0x6400)
	if len(data) != 66 {
		t.Fatalf("payload length = %d, want 66", len(data))
	}
	if binary.BigEndian.Uint16(data[0:2]) != 0x0102 {
		t.Error("session ID not encoded")
	}
	if got := binary.BigEndian.Uint16(data[7:9]); got != 0x6400 {
		t.Errorf("main parameter = 0x%04X, want 0x6400", got)
	}
	if data[41] != 1 || data[42] != 3 {
		t.Errorf("index array = count %d, first %d", data[41], data[42])
	}
}

func TestBuildActivateScene(t *testing.T) {
	data := buildActivateScene(7, 2)
	if len(data) != 6 {
		t.Fatalf("payload length = %d, want 6", len(data))
	}
	if binary.BigEndian.Uint16(data[0:2]) != 7 || data[4] != 2 {
		t.Errorf("payload = %v", data)
	}
}

// buildSceneListData constructs a scene list notification body.
func buildSceneListData(remaining int, scenes ...sceneListEntry) []byte {
	data := []byte{byte(len(scenes))}
	for _, s := range scenes {
		entry := make([]byte, 65)
		entry[0] = byte(s.SceneID)
		copy(entry[1:], s.Name)
		data = append(data, entry...)
	}
	return append(data, byte(remaining))
}

func TestParseSceneList(t *testing.T) {
	data := buildSceneListData(0,
		sceneListEntry{SceneID: 0, Name: "Morning"},
		sceneListEntry{SceneID: 3, Name: "Night"})

	entries, remaining, err := parseSceneList(data)
	if err != nil {
		t.Fatalf("parseSceneList() error: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if len(entries) != 2 || entries[0].Name != "Morning" || entries[1].SceneID != 3 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestParseSceneListTruncated(t *testing.T) {
	data := buildSceneListData(0, sceneListEntry{SceneID: 1, Name: "X"})
	if _, _, err := parseSceneList(data[:20]); !errors.Is(err, ErrBadFrame) {
		t.Errorf("parseSceneList() error = %v, want ErrBadFrame", err)
	}
}

// buildSceneInfoData constructs a scene information notification body.
func buildSceneInfoData(sceneID int, name string, nodes, remaining int) []byte {
	data := make([]byte, 66)
	data[0] = byte(sceneID)
	copy(data[1:65], name)
	data[65] = byte(nodes)
	data = append(data, make([]byte, nodes*4)...)
	return append(data, byte(remaining))
}

func TestParseSceneInfo(t *testing.T) {
	data := buildSceneInfoData(3, "Night", 2, 0)

	info, err := parseSceneInfo(data)
	if err != nil {
		t.Fatalf("parseSceneInfo() error: %v", err)
	}
	if info.SceneID != 3 || info.Name != "Night" || info.NodeCount != 2 || info.Remaining != 0 {
		t.Errorf("info = %+v", info)
	}
}

func TestErrorNTFText(t *testing.T) {
	if got := errorNTFText(12); got != "not authenticated" {
		t.Errorf("errorNTFText(12) = %q", got)
	}
	if got := errorNTFText(200); got != "error code 200" {
		t.Errorf("errorNTFText(200) = %q", got)
	}
}
