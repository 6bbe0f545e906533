// Package wire holds the byte layouts of the acceleration and orientation
// characteristics, the control point and the UDP frames that carry them.
package wire

import (
	"encoding/binary"
	"fmt"
)

// TripleLen is the size of an acceleration or orientation payload.
const TripleLen = 6

// EncodeTriple lays out x, y, z as little-endian int16.
func EncodeTriple(v [3]int16) []byte {
	b := make([]byte, TripleLen)
	for i, c := range v {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(c))
	}
	return b
}

func DecodeTriple(b []byte) ([3]int16, error) {
	var v [3]int16
	if len(b) != TripleLen {
		return v, fmt.Errorf("wire: triple length %d want %d", len(b), TripleLen)
	}
	for i := range v {
		v[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return v, nil
}
