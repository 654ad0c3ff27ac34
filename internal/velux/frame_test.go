package velux

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"no data", Frame{Command: cmdGetStateREQ}},
		{"with data", Frame{Command: cmdPasswordEnterREQ, Data: []byte("velux123")}},
		{"slip end in data", Frame{Command: 0x0300, Data: []byte{0xC0, 0x01, 0xC0}}},
		{"slip esc in data", Frame{Command: 0x0300, Data: []byte{0xDB, 0xDC, 0xDD}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := tt.frame.Encode()
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			var dec slipDecoder
			bodies := dec.feed(wire)
			if len(bodies) != 1 {
				t.Fatalf("decoder yielded %d bodies, want 1", len(bodies))
			}

			got, err := decodeFrame(bodies[0])
			if err != nil {
				t.Fatalf("decodeFrame() error: %v", err)
			}
			if got.Command != tt.frame.Command {
				t.Errorf("Command = 0x%04X, want 0x%04X", got.Command, tt.frame.Command)
			}
			if !bytes.Equal(got.Data, tt.frame.Data) && len(tt.frame.Data) > 0 {
				t.Errorf("Data = %v, want %v", got.Data, tt.frame.Data)
			}
		})
	}
}

func TestEncodeRejectsOversizedData(t *testing.T) {
	f := Frame{Command: 0x0300, Data: make([]byte, maxFrameData+1)}
	if _, err := f.Encode(); !errors.Is(err, ErrBadFrame) {
		t.Errorf("Encode() error = %v, want ErrBadFrame", err)
	}
}

func TestDecodeFrameChecksumMismatch(t *testing.T) {
	wire, err := (Frame{Command: cmdGetStateREQ}).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var dec slipDecoder
	bodies := dec.feed(wire)
	body := bodies[0]
	body[len(body)-1] ^= 0xFF

	if _, err := decodeFrame(body); !errors.Is(err, ErrBadFrame) {
		t.Errorf("decodeFrame() error = %v, want ErrBadFrame", err)
	}
}

func TestDecodeFrameTooShort(t *testing.T) {
	if _, err := decodeFrame([]byte{0x00, 0x01}); !errors.Is(err, ErrBadFrame) {
		t.Errorf("decodeFrame() error = %v, want ErrBadFrame", err)
	}
}

func TestDecodeFrameWrongProtocolID(t *testing.T) {
	if _, err := decodeFrame([]byte{0x01, 0x03, 0x00, 0x0C, 0x0E}); !errors.Is(err, ErrBadFrame) {
		t.Errorf("decodeFrame() error = %v, want ErrBadFrame", err)
	}
}

func TestSlipDecoderSplitAcrossReads(t *testing.T) {
	wire, err := (Frame{Command: cmdGetStateREQ}).Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var dec slipDecoder
	var bodies [][]byte
	// Feed one byte at a time, mimicking worst-case TCP segmentation.
	for _, b := range wire {
		bodies = append(bodies, dec.feed([]byte{b})...)
	}
	if len(bodies) != 1 {
		t.Fatalf("decoder yielded %d bodies, want 1", len(bodies))
	}
	if _, err := decodeFrame(bodies[0]); err != nil {
		t.Errorf("decodeFrame() error: %v", err)
	}
}

func TestSlipDecoderBatchedFrames(t *testing.T) {
	a, _ := (Frame{Command: cmdGetStateREQ}).Encode()
	b, _ := (Frame{Command: cmdHouseMonitorEnableREQ}).Encode()

	var dec slipDecoder
	bodies := dec.feed(append(a, b...))
	if len(bodies) != 2 {
		t.Fatalf("decoder yielded %d bodies, want 2", len(bodies))
	}

	first, err := decodeFrame(bodies[0])
	if err != nil {
		t.Fatalf("decodeFrame() error: %v", err)
	}
	if first.Command != cmdGetStateREQ {
		t.Errorf("first command = 0x%04X, want 0x%04X", first.Command, cmdGetStateREQ)
	}
}

func TestSlipDecoderIgnoresGarbageBetweenFrames(t *testing.T) {
	wire, _ := (Frame{Command: cmdGetStateREQ}).Encode()

	var dec slipDecoder
	// Garbage before the first END must not produce a frame.
	input := append([]byte{0x42, 0x13, 0x37}, wire...)
	bodies := dec.feed(input)
	if len(bodies) != 1 {
		t.Fatalf("decoder yielded %d bodies, want 1", len(bodies))
	}
}

func TestSlipDecoderOverflowDropsFrame(t *testing.T) {
	var dec slipDecoder
	input := []byte{slipEnd}
	input = append(input, bytes.Repeat([]byte{0x01}, maxSLIPFrame+10)...)
	input = append(input, slipEnd)

	if bodies := dec.feed(input); len(bodies) != 0 {
		t.Errorf("oversized frame must be dropped, got %d bodies", len(bodies))
	}
}
