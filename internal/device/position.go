package device

import (
	"fmt"
	"math"
)

// ToPublic converts a gateway raw position (0.0 open .. 1.0 closed) to the
// public percentage scale (0 closed .. 100 open).
//
// Values are rounded to the nearest integer and clamped to [0, 100], so
// slightly out-of-range raw readings from the gateway never escape onto
// the bus.
func ToPublic(raw float64) int {
	pct := int(math.Round((1 - raw) * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ToRaw converts a public percentage to the gateway's raw scale.
// The inverse of ToPublic: ToPublic(ToRaw(p)) == p for every p in [0, 100].
func ToRaw(pct int) float64 {
	return 1 - float64(pct)/100
}

// typeTable maps the gateway's actuator type codes (the type part of the
// node type field) to public device types. Fixed at build time; entries
// follow the documented KLF200 actuator enumeration.
var typeTable = map[int]Type{
	1:  TypeBlind,   // interior venetian blind
	2:  TypeShutter, // roller shutter
	3:  TypeAwning,  // vertical exterior awning
	4:  TypeWindow,  // window opener
	5:  TypeGarage,  // garage door opener
	7:  TypeGate,    // gate opener
	9:  TypeLock,    // door lock
	10: TypeBlind,   // interior vertical blind
	13: TypeShutter, // dual roller shutter
	16: TypeAwning,  // horizontal awning
	17: TypeBlind,   // exterior venetian blind
	18: TypeBlind,   // louver blind
	24: TypeShutter, // swinging shutter
}

// Classify maps a gateway actuator type code to a public device type.
// Unknown codes map to TypeUnknown.
func Classify(productTypeCode int) Type {
	if t, ok := typeTable[productTypeCode]; ok {
		return t
	}
	return TypeUnknown
}

// Status describes a gateway status-reply code in human terms.
type Status struct {
	IsError bool
	Message string
}

// statusTable holds the documented KLF200 status reply codes.
// Codes 0x00 (unknown) and 0x01 (OK) are intentionally absent: they carry
// no information worth publishing.
var statusTable = map[int]Status{
	0x02: {true, "No contact with node"},
	0x03: {false, "Manually operated"},
	0x04: {true, "Blocked"},
	0x05: {true, "Wrong system key"},
	0x06: {true, "Priority level locked"},
	0x07: {true, "Reached wrong position"},
	0x08: {true, "Error during execution"},
	0x09: {false, "No movement"},
	0x0A: {false, "Calibrating"},
	0x0B: {true, "Power consumption too high"},
	0x0C: {true, "Power consumption too low"},
	0x0D: {true, "Lock position open"},
	0x0E: {true, "Motion time too long, communication ended"},
	0x0F: {true, "Thermal protection active"},
	0x10: {true, "Product is not operational"},
	0x11: {true, "Filter maintenance needed"},
	0x12: {true, "Battery level is low"},
	0x13: {false, "Target was modified"},
	0x14: {false, "Mode is not implemented"},
	0x15: {true, "Command incompatible with movement"},
	0x16: {false, "Overruled by user action"},
	0x17: {true, "Dead bolt error"},
	0x18: {false, "Automatic cycle engaged"},
	0x19: {true, "Wrong load connected"},
	0x1A: {true, "Colour not reachable"},
	0x1B: {true, "Target not reachable"},
	0x1C: {true, "Bad index received"},
	0x1D: {false, "Command overruled"},
	0x1E: {true, "Node waiting for power"},
	0xE0: {false, "Target limited by limitation"},
	0xE1: {false, "Limited by local user"},
	0xE2: {false, "Limited by rain sensor"},
	0xE3: {false, "Limited by timer"},
}

// StatusText resolves a gateway status-reply code.
//
// Returns nil for 0x00 (unknown) and 0x01 (OK). Known codes return their
// table entry; unrecognised codes return a non-error placeholder so odd
// gateway firmware never silently drops information.
func StatusText(code int) *Status {
	switch code {
	case 0x00, 0x01:
		return nil
	}
	if s, ok := statusTable[code]; ok {
		return &s
	}
	return &Status{IsError: false, Message: fmt.Sprintf("Unknown status(%d)", code)}
}
