package device

import (
	"fmt"
	"testing"
)

func TestToPublicToRawRoundTrip(t *testing.T) {
	// Every integer percentage must survive the round trip exactly.
	for p := 0; p <= 100; p++ {
		if got := ToPublic(ToRaw(p)); got != p {
			t.Errorf("ToPublic(ToRaw(%d)) = %d, want %d", p, got, p)
		}
	}
}

func TestToPublic(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want int
	}{
		{"fully open", 0.0, 100},
		{"fully closed", 1.0, 0},
		{"half", 0.5, 50},
		{"rounding", 0.505, 50},
		{"clamp below", -0.2, 100},
		{"clamp above", 1.3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToPublic(tt.raw); got != tt.want {
				t.Errorf("ToPublic(%v) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want Type
	}{
		{4, TypeWindow},
		{2, TypeShutter},
		{1, TypeBlind},
		{17, TypeBlind},
		{3, TypeAwning},
		{5, TypeGarage},
		{7, TypeGate},
		{9, TypeLock},
		{0, TypeUnknown},
		{99, TypeUnknown},
		{-1, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			if got := Classify(tt.code); got != tt.want {
				t.Errorf("Classify(%d) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestStatusText(t *testing.T) {
	// Codes 0x00 and 0x01 carry no publishable information.
	if got := StatusText(0x00); got != nil {
		t.Errorf("StatusText(0x00) = %+v, want nil", got)
	}
	if got := StatusText(0x01); got != nil {
		t.Errorf("StatusText(0x01) = %+v, want nil", got)
	}

	// A known error code.
	got := StatusText(0x0F)
	if got == nil {
		t.Fatal("StatusText(0x0F) = nil, want entry")
	}
	if !got.IsError {
		t.Error("StatusText(0x0F).IsError = false, want true")
	}
	if got.Message == "" {
		t.Error("StatusText(0x0F).Message is empty")
	}

	// A known informational code.
	got = StatusText(0x03)
	if got == nil {
		t.Fatal("StatusText(0x03) = nil, want entry")
	}
	if got.IsError {
		t.Error("StatusText(0x03).IsError = true, want false")
	}

	// Unknown codes come back as non-error placeholders.
	got = StatusText(0xBB)
	if got == nil {
		t.Fatal("StatusText(0xBB) = nil, want placeholder")
	}
	if got.IsError {
		t.Error("unknown status must not be flagged as error")
	}
	if got.Message != "Unknown status(187)" {
		t.Errorf("unknown status message = %q", got.Message)
	}
}
