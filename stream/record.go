// Package stream carries points between the scanner and a receiver as a
// plain sequence of fixed size records over TCP.
//
// A record is x, y and z as little-endian IEEE 754 float64, 24 bytes, with
// no header or delimiter.
package stream

import (
	"encoding/binary"
	"math"

	"github.com/mastercactapus/gscan/coord"
)

// RecordSize is the encoded size of one point.
const RecordSize = 24

// PutRecord encodes p into b, which must hold at least RecordSize bytes.
func PutRecord(b []byte, p coord.Point) {
	_ = b[RecordSize-1]
	binary.LittleEndian.PutUint64(b[0:], math.Float64bits(p.X))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(p.Y))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(p.Z))
}

// AppendRecord appends the encoding of p to dst.
func AppendRecord(dst []byte, p coord.Point) []byte {
	var b [RecordSize]byte
	PutRecord(b[:], p)
	return append(dst, b[:]...)
}

// ParseRecord decodes the first RecordSize bytes of b.
func ParseRecord(b []byte) coord.Point {
	_ = b[RecordSize-1]
	return coord.Point{
		X: math.Float64frombits(binary.LittleEndian.Uint64(b[0:])),
		Y: math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		Z: math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
	}
}
