package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind is the first byte of every UDP frame.
type Kind byte

const (
	// Tag to client.
	KindAcceleration    Kind = 0x01
	KindOrientation     Kind = 0x02
	KindControlIndicate Kind = 0x03
	KindWriteResponse   Kind = 0x04

	// Client to tag.
	KindSubscribe    Kind = 0x10
	KindControlWrite Kind = 0x11
	KindConnect      Kind = 0x12
	KindDisconnect   Kind = 0x13
)

// Characteristic identifies a subscribable attribute.
type Characteristic byte

const (
	CharAcceleration Characteristic = 0x01
	CharOrientation  Characteristic = 0x02
	CharControlPoint Characteristic = 0x03
)

// Frame is one decoded datagram.
type Frame struct {
	Kind    Kind
	Payload []byte
}

func (f Frame) Encode() []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = byte(f.Kind)
	copy(out[1:], f.Payload)
	return out
}

// DecodeFrame splits a datagram. The payload aliases b.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, fmt.Errorf("wire: empty frame")
	}
	return Frame{Kind: Kind(b[0]), Payload: b[1:]}, nil
}

// Subscribe is a client characteristic configuration change: a non-zero
// config enables notifications or indications.
type Subscribe struct {
	Char   Characteristic
	Config uint16
}

func (s Subscribe) Enabled() bool { return s.Config != 0 }

func (s Subscribe) Frame() Frame {
	p := make([]byte, 3)
	p[0] = byte(s.Char)
	binary.LittleEndian.PutUint16(p[1:], s.Config)
	return Frame{Kind: KindSubscribe, Payload: p}
}

func ParseSubscribe(p []byte) (Subscribe, error) {
	if len(p) != 3 {
		return Subscribe{}, fmt.Errorf("wire: subscribe length %d want 3", len(p))
	}
	s := Subscribe{Char: Characteristic(p[0]), Config: binary.LittleEndian.Uint16(p[1:])}
	switch s.Char {
	case CharAcceleration, CharOrientation, CharControlPoint:
		return s, nil
	default:
		return Subscribe{}, fmt.Errorf("wire: unknown characteristic 0x%02X", byte(s.Char))
	}
}

func AccelerationFrame(v [3]int16) Frame {
	return Frame{Kind: KindAcceleration, Payload: EncodeTriple(v)}
}

func OrientationFrame(v [3]int16) Frame {
	return Frame{Kind: KindOrientation, Payload: EncodeTriple(v)}
}

func IndicateFrame(op Opcode, r Result) Frame {
	return Frame{Kind: KindControlIndicate, Payload: ControlResponse(op, r)}
}

func WriteResponseFrame(status byte) Frame {
	return Frame{Kind: KindWriteResponse, Payload: []byte{status}}
}
