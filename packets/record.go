package packets

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// FrameBytes is the size of the framing header written before each packet on disk:
// the data length, then the arrival time in seconds and microseconds.
const FrameBytes = 12

// Record is one packet as stored in a recorded file.
type Record struct {
	Time   time.Time
	Packet *Packet
}

// Length is the data_length field of the record's frame.
func (r *Record) Length() int {
	return r.Packet.DataLength()
}

// RecordWriter writes framed records back to back with no outer container.
type RecordWriter struct {
	w       io.Writer
	order   Normalizer
	written int64
}

// NewRecordWriter returns a writer storing all words in the given order.
func NewRecordWriter(w io.Writer, order Normalizer) *RecordWriter {
	return &RecordWriter{w: w, order: order}
}

// Write appends one framed record.
func (rw *RecordWriter) Write(rec Record) error {
	body := rec.Packet.Encode(rw.order)
	frame := make([]byte, FrameBytes, FrameBytes+len(body))
	rw.order.Put(frame[0:4], uint32(len(body)))
	rw.order.Put(frame[4:8], uint32(rec.Time.Unix()))
	rw.order.Put(frame[8:12], uint32(rec.Time.Nanosecond()/1000))
	frame = append(frame, body...)
	n, err := rw.w.Write(frame)
	rw.written += int64(n)
	return err
}

// BytesWritten counts the bytes passed to the underlying writer.
func (rw *RecordWriter) BytesWritten() int64 {
	return rw.written
}

// RecordReader reads framed records.
type RecordReader struct {
	r     io.Reader
	order Normalizer
	frame [FrameBytes]byte
	nread int
}

// NewRecordReader returns a reader interpreting all words in the given order.
func NewRecordReader(r io.Reader, order Normalizer) *RecordReader {
	return &RecordReader{r: r, order: order}
}

// Next reads one record. It returns io.EOF when the input ends cleanly between records,
// io.ErrUnexpectedEOF when it ends inside one, and an error wrapping ErrMalformedPacket
// when the frame declares an impossible length. Nothing after a malformed frame can be
// trusted, so callers should stop reading.
func (rr *RecordReader) Next() (*Record, error) {
	if _, err := io.ReadFull(rr.r, rr.frame[:]); err != nil {
		return nil, err
	}
	length := int(int32(rr.order.Normalize(rr.frame[0:4])))
	if err := CheckLength(length); err != nil {
		return nil, fmt.Errorf("record %d: %w", rr.nread, err)
	}
	sec := int64(rr.order.Normalize(rr.frame[4:8]))
	usec := int64(rr.order.Normalize(rr.frame[8:12]))

	body := make([]byte, length)
	if _, err := io.ReadFull(rr.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	p, err := Decode(body, rr.order)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rr.nread, err)
	}
	rr.nread++
	return &Record{Time: time.Unix(sec, usec*1000), Packet: p}, nil
}

// Count is the number of records read so far.
func (rr *RecordReader) Count() int {
	return rr.nread
}
