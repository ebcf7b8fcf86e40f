package stream

import "github.com/mastercactapus/gscan/coord"

// Framer reassembles records from arbitrarily chunked input. Between calls
// it holds at most RecordSize-1 bytes.
type Framer struct {
	buf []byte
}

// Feed appends data and calls emit for every complete record, in order.
// It returns the number of records emitted. If emit fails, Feed stops and
// keeps the unconsumed records buffered.
func (f *Framer) Feed(data []byte, emit func(coord.Point) error) (int, error) {
	f.buf = append(f.buf, data...)

	var n, off int
	var err error
	for len(f.buf)-off >= RecordSize {
		if err = emit(ParseRecord(f.buf[off:])); err != nil {
			break
		}
		off += RecordSize
		n++
	}
	if off > 0 {
		f.buf = f.buf[:copy(f.buf, f.buf[off:])]
	}
	return n, err
}

// Pending is the number of buffered bytes not yet forming a record.
func (f *Framer) Pending() int { return len(f.buf) }

// Reset drops any buffered bytes.
func (f *Framer) Reset() { f.buf = f.buf[:0] }
