package beespec

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// VectorSink captures one spectrum as four tab-separated text vectors in Dir:
// receiveVectorBin, receiveVectorAvgPower, receiveVectorHitBin and receiveVectorHitPower.
// It captures the Nth spectrum it is given (counting from 1) and then ends the run.
type VectorSink struct {
	Dir  string
	N    int
	seen int
}

// NewVectorSink captures the nth spectrum into dir. The first spectrum of a live stream is
// usually partial, so n=2 was the traditional choice.
func NewVectorSink(dir string, n int) *VectorSink {
	if n < 1 {
		n = 1
	}
	return &VectorSink{Dir: dir, N: n}
}

// Consume writes the vectors when the Nth spectrum arrives and returns ErrSinkDone.
func (vs *VectorSink) Consume(s *Spectrum, v View) error {
	vs.seen++
	if vs.seen < vs.N {
		return nil
	}
	if vs.seen > vs.N {
		return ErrSinkDone
	}
	pa := s.PlotArrays(v.Axis)
	vectors := []struct {
		name   string
		values []float64
	}{
		{"receiveVectorBin", pa.BinX},
		{"receiveVectorAvgPower", pa.Power},
		{"receiveVectorHitBin", pa.HitX},
		{"receiveVectorHitPower", pa.HitPower},
	}
	for _, vec := range vectors {
		if err := writeVector(filepath.Join(vs.Dir, vec.name), vec.values); err != nil {
			return err
		}
	}
	UpdateLogger.Printf("Wrote spectrum %d vectors to %s", s.Sequence, vs.Dir)
	return ErrSinkDone
}

func writeVector(path string, values []float64) error {
	fp, err := os.Create(path)
	if err != nil {
		return &FileOpenError{Path: path, Err: err}
	}
	w := bufio.NewWriter(fp)
	for _, x := range values {
		fmt.Fprintf(w, "%g\t", x)
	}
	if err := w.Flush(); err != nil {
		fp.Close()
		return fmt.Errorf("failed to write %s, err: %w", path, err)
	}
	return fp.Close()
}

// Close does nothing; every vector file is closed as soon as it is written.
func (vs *VectorSink) Close() error {
	return nil
}
