package wire

import "fmt"

// Opcode is the first byte of a control point write.
type Opcode byte

const (
	OpCalibrate        Opcode = 0x01
	OpOrientationReset Opcode = 0x02
	OpCalibrationReset Opcode = 0x64

	opResponse = 0x10
)

func (o Opcode) String() string {
	switch o {
	case OpCalibrate:
		return "calibrate"
	case OpOrientationReset:
		return "orientation-reset"
	case OpCalibrationReset:
		return "calibration-reset"
	default:
		return fmt.Sprintf("opcode(0x%02X)", byte(o))
	}
}

// Known reports whether the tag implements o.
func (o Opcode) Known() bool {
	return o == OpCalibrate || o == OpOrientationReset || o == OpCalibrationReset
}

// Result byte of a control point response.
type Result byte

const (
	ResultSuccess Result = 0x01
	ResultError   Result = 0x02
)

// ATT status returned on a control point write.
const (
	ATTSuccess = 0x00

	// ATTCCCDImproperlyConfigured rejects writes while the client has not
	// enabled control point indications.
	ATTCCCDImproperlyConfigured = 0x81
)

// ParseControlPoint returns the opcode of a write. Trailing bytes are
// ignored.
func ParseControlPoint(b []byte) (Opcode, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("wire: empty control point write")
	}
	return Opcode(b[0]), nil
}

// ControlResponse is the 3-byte indication answering a control point write.
func ControlResponse(op Opcode, r Result) []byte {
	return []byte{opResponse, byte(op), byte(r)}
}

// ParseControlResponse is the inverse of ControlResponse.
func ParseControlResponse(b []byte) (Opcode, Result, error) {
	if len(b) != 3 || b[0] != opResponse {
		return 0, 0, fmt.Errorf("wire: bad control response % x", b)
	}
	return Opcode(b[1]), Result(b[2]), nil
}
