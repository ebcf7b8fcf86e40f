// Package tfmini decodes the serial output of a TFmini-S ranging sensor.
//
// The sensor emits fixed 9-byte frames:
//
//	0x59 0x59 Dist_L Dist_H Strength_L Strength_H Temp_L Temp_H Checksum
//
// where the checksum is the low byte of the sum of the previous 8 bytes.
package tfmini

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// FrameSize is the length of one frame on the wire.
	FrameSize = 9

	header      byte = 0x59
	payloadSize      = 6
)

// Raw sentinel values reported in place of a distance or strength.
const (
	rawNoDetection       = 0xFFFF
	rawSignalSaturation  = 0xFFFE
	rawAmbientSaturation = 0xFFFC
	rawInvalidStrength   = 0xFFFF
)

// Distance values used for readings that carry no range.
const (
	DistanceNoDetection       = -1
	DistanceSignalSaturation  = -2
	DistanceAmbientSaturation = -4

	StrengthInvalid = -1
)

// Status tags a Measurement with the condition the sensor reported.
type Status int

const (
	StatusOK Status = iota
	StatusNoDetection
	StatusSignalSaturation
	StatusAmbientSaturation
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoDetection:
		return "no detection"
	case StatusSignalSaturation:
		return "signal saturation"
	case StatusAmbientSaturation:
		return "ambient light saturation"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Measurement is one decoded frame.
type Measurement struct {
	// Distance in centimetres, or one of the negative Distance* values.
	Distance int
	// Strength is the signal strength, StrengthInvalid if the sensor flagged it.
	Strength int
	// Temperature of the sensor chip in degrees Celsius.
	Temperature float64

	Status Status
}

// Valid reports whether m carries a usable distance.
func (m Measurement) Valid() bool { return m.Status == StatusOK }

// ErrChecksum is matched by every *ChecksumError.
var ErrChecksum = errors.New("tfmini: checksum mismatch")

// ChecksumError is returned when a frame's trailing byte does not match its content.
type ChecksumError struct {
	Want, Got byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("tfmini: checksum 0x%02x does not match expected 0x%02x", e.Got, e.Want)
}

func (e *ChecksumError) Is(target error) bool { return target == ErrChecksum }

// Checksum computes the checksum byte for a 6-byte payload.
func Checksum(payload []byte) byte {
	sum := int(header) * 2
	for _, b := range payload {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// decodePayload converts the 6 payload bytes of a frame.
func decodePayload(p []byte) Measurement {
	rawDist := binary.LittleEndian.Uint16(p[0:2])
	rawStrength := binary.LittleEndian.Uint16(p[2:4])
	rawTemp := binary.LittleEndian.Uint16(p[4:6])

	m := Measurement{
		Distance:    int(rawDist),
		Strength:    int(rawStrength),
		Temperature: float64(rawTemp)/8 - 256,
	}
	switch rawDist {
	case rawNoDetection:
		m.Distance, m.Status = DistanceNoDetection, StatusNoDetection
	case rawSignalSaturation:
		m.Distance, m.Status = DistanceSignalSaturation, StatusSignalSaturation
	case rawAmbientSaturation:
		m.Distance, m.Status = DistanceAmbientSaturation, StatusAmbientSaturation
	}
	if rawStrength == rawInvalidStrength {
		m.Strength = StrengthInvalid
	}
	return m
}

// DecodeFrame decodes a complete frame, header included.
func DecodeFrame(frame []byte) (Measurement, error) {
	if len(frame) != FrameSize {
		return Measurement{}, fmt.Errorf("tfmini: frame is %d bytes, want %d", len(frame), FrameSize)
	}
	if frame[0] != header || frame[1] != header {
		return Measurement{}, errors.New("tfmini: missing frame header")
	}
	payload := frame[2 : 2+payloadSize]
	if want := Checksum(payload); want != frame[FrameSize-1] {
		return Measurement{}, &ChecksumError{Want: want, Got: frame[FrameSize-1]}
	}
	return decodePayload(payload), nil
}

// EncodeFrame builds the wire frame the sensor would send for m.
//
// Temperatures are truncated to the 1/8 degree resolution of the sensor.
func EncodeFrame(m Measurement) [FrameSize]byte {
	var f [FrameSize]byte
	f[0], f[1] = header, header

	dist := uint16(m.Distance)
	switch m.Status {
	case StatusNoDetection:
		dist = rawNoDetection
	case StatusSignalSaturation:
		dist = rawSignalSaturation
	case StatusAmbientSaturation:
		dist = rawAmbientSaturation
	}
	strength := uint16(m.Strength)
	if m.Strength == StrengthInvalid {
		strength = rawInvalidStrength
	}
	binary.LittleEndian.PutUint16(f[2:4], dist)
	binary.LittleEndian.PutUint16(f[4:6], strength)
	binary.LittleEndian.PutUint16(f[6:8], uint16((m.Temperature+256)*8))
	f[8] = Checksum(f[2:8])
	return f
}
