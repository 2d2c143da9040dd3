// Package npysink saves spectra as NumPy arrays for offline analysis:
// <out>_spectra.npy holds one row of 4096 scaled powers per spectrum (NaN for bins that
// received no packet) and <out>_hits.npy holds one (sequence, global bin, scaled power)
// row per hit.
package npysink

import (
	"fmt"
	"math"
	"os"

	"github.com/sbinet/npyio"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/packets"
	"gonum.org/v1/gonum/mat"
)

// HitColumns is the number of columns of the hits array.
const HitColumns = 3

// NpySink is a beespec.SpectrumSink accumulating spectra in memory until Close.
type NpySink struct {
	out        string
	maxSpectra int
	powers     []float64
	hits       []float64
	nspectra   int
	nhits      int
}

// New makes a sink writing <out>_spectra.npy and <out>_hits.npy. After maxSpectra spectra
// (if positive) the sink reports beespec.ErrSinkDone.
func New(out string, maxSpectra int) *NpySink {
	return &NpySink{out: out, maxSpectra: maxSpectra}
}

// SpectraPath is the file holding the power matrix.
func (ns *NpySink) SpectraPath() string {
	return ns.out + "_spectra.npy"
}

// HitsPath is the file holding the hit table.
func (ns *NpySink) HitsPath() string {
	return ns.out + "_hits.npy"
}

// Consume appends one spectrum. Hidden hits are not saved.
func (ns *NpySink) Consume(s *beespec.Spectrum, v beespec.View) error {
	for i, ok := range s.Filled {
		p := math.NaN()
		if ok {
			p = packets.ScaledPower(s.Summary[i])
		}
		ns.powers = append(ns.powers, p)
	}
	if v.ShowHits {
		for _, h := range s.Hits {
			ns.hits = append(ns.hits, float64(s.Sequence), float64(h.Bin), h.ScaledPower())
			ns.nhits++
		}
	}
	ns.nspectra++
	if ns.maxSpectra > 0 && ns.nspectra >= ns.maxSpectra {
		return beespec.ErrSinkDone
	}
	return nil
}

// Spectra counts the spectra consumed.
func (ns *NpySink) Spectra() int {
	return ns.nspectra
}

func writeMatrix(path string, m mat.Matrix) error {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(fp, m); err != nil {
		fp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return fp.Close()
}

// Close writes both arrays. Nothing is written if no spectrum arrived.
func (ns *NpySink) Close() error {
	if ns.nspectra == 0 {
		return nil
	}
	spectra := mat.NewDense(ns.nspectra, packets.NumPFBBins, ns.powers)
	if err := writeMatrix(ns.SpectraPath(), spectra); err != nil {
		return err
	}
	if ns.nhits == 0 {
		// An empty hit table is saved as an empty vector.
		fp, err := os.Create(ns.HitsPath())
		if err != nil {
			return err
		}
		if err := npyio.Write(fp, []float64{}); err != nil {
			fp.Close()
			return err
		}
		return fp.Close()
	}
	return writeMatrix(ns.HitsPath(), mat.NewDense(ns.nhits, HitColumns, ns.hits))
}
