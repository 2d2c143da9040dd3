package beespec

import (
	"bufio"
	"fmt"
	"io"

	"github.com/ucb-seti/beespec/packets"
)

// TextDumper writes records in the plain text layout used for inspecting recordings:
// one value per line (length, sec.usec, bin, summary, error code, then each hit's fine
// bin and power) and a blank line after each record. Values print as signed 32-bit integers.
type TextDumper struct {
	w *bufio.Writer
	n int
}

// NewTextDumper wraps w. Call Flush when done.
func NewTextDumper(w io.Writer) *TextDumper {
	return &TextDumper{w: bufio.NewWriter(w)}
}

// WriteRecord dumps one record.
func (d *TextDumper) WriteRecord(rec *packets.Record) error {
	p := rec.Packet
	fmt.Fprintf(d.w, "%d\n", int32(p.DataLength()))
	fmt.Fprintf(d.w, "%d.%06d\n", int32(rec.Time.Unix()), int32(rec.Time.Nanosecond()/1000))
	fmt.Fprintf(d.w, "%d\n%d\n%d\n", int32(p.Bin), int32(p.Summary), int32(p.ErrorFlags))
	for _, h := range p.Hits {
		fmt.Fprintf(d.w, "%d\n%d\n", int32(h.FineBin), int32(h.Power))
	}
	_, err := d.w.WriteString("\n")
	d.n++
	return err
}

// Records is the number of records dumped.
func (d *TextDumper) Records() int {
	return d.n
}

// Flush writes any buffered text.
func (d *TextDumper) Flush() error {
	return d.w.Flush()
}
