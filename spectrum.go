package beespec

import (
	"time"

	"github.com/ucb-seti/beespec/packets"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// GlobalHit is a hit located among all 4096*32768 fine bins of a spectrum.
type GlobalHit struct {
	Bin   int64
	Power uint32
}

// ScaledPower is the hit power on the instrument's float scale.
func (h GlobalHit) ScaledPower() float64 {
	return packets.ScaledPower(h.Power)
}

// Spectrum is one sweep over all logical PFB bins plus the hits seen during it.
type Spectrum struct {
	Sequence  int       // counts spectra emitted by one Reassembler, from 0
	Timestamp time.Time // arrival time of the first packet
	Summary   [packets.NumPFBBins]uint32
	Filled    [packets.NumPFBBins]bool
	Hits      []GlobalHit
	nfilled   int
}

func newSpectrum(seq int) *Spectrum {
	return &Spectrum{Sequence: seq}
}

func (s *Spectrum) setSummary(logical int, value uint32) {
	if !s.Filled[logical] {
		s.Filled[logical] = true
		s.nfilled++
	}
	s.Summary[logical] = value
}

// BinsFilled counts the logical bins that received a summary value.
func (s *Spectrum) BinsFilled() int {
	return s.nfilled
}

// Empty is true if no packet contributed to the spectrum.
func (s *Spectrum) Empty() bool {
	return s.nfilled == 0 && len(s.Hits) == 0
}

// Powers returns the filled logical bins and their scaled summary powers, in bin order.
func (s *Spectrum) Powers() (bins []int, powers []float64) {
	bins = make([]int, 0, s.nfilled)
	powers = make([]float64, 0, s.nfilled)
	for i, ok := range s.Filled {
		if ok {
			bins = append(bins, i)
			powers = append(powers, packets.ScaledPower(s.Summary[i]))
		}
	}
	return
}

// SpectrumStats summarizes the scaled summary powers of a spectrum.
type SpectrumStats struct {
	Mean   float64
	StdDev float64
	Max    float64
	MaxBin int // logical bin of Max, or -1 when the spectrum is empty
	NHits  int
	HitMax float64
	HitBin int64 // global bin of HitMax, or -1 without hits
}

// Stats computes summary statistics of the spectrum.
func (s *Spectrum) Stats() SpectrumStats {
	st := SpectrumStats{MaxBin: -1, HitBin: -1, NHits: len(s.Hits)}
	bins, powers := s.Powers()
	if len(powers) > 0 {
		st.Mean, st.StdDev = stat.MeanStdDev(powers, nil)
		if len(powers) == 1 {
			st.StdDev = 0
		}
		idx := floats.MaxIdx(powers)
		st.Max = powers[idx]
		st.MaxBin = bins[idx]
	}
	if h, ok := s.MaxHit(); ok {
		st.HitMax = h.ScaledPower()
		st.HitBin = h.Bin
	}
	return st
}

// MaxHit returns the strongest hit. The first one wins ties.
func (s *Spectrum) MaxHit() (GlobalHit, bool) {
	if len(s.Hits) == 0 {
		return GlobalHit{}, false
	}
	best := s.Hits[0]
	for _, h := range s.Hits[1:] {
		if h.Power > best.Power {
			best = h
		}
	}
	return best, true
}

// AxisMode selects the horizontal axis of plots.
type AxisMode int

// Axis modes, as offered by the legacy plotting tools.
const (
	AxisFrequency AxisMode = iota // MHz around a center frequency
	AxisPFBBin                    // logical PFB bin number
	AxisRaw                       // global fine-bin index
)

// Axis converts bin indices into plot coordinates.
type Axis struct {
	Mode      AxisMode
	CenterMHz float64
}

// DefaultCenterMHz is the legacy default plot center.
const DefaultCenterMHz = 2275.0

// BinX is the plot coordinate of the left edge of a logical PFB bin.
func (a Axis) BinX(logical int) float64 {
	x := float64(logical) - 0.5
	switch a.Mode {
	case AxisPFBBin:
		return x
	case AxisFrequency:
		return x/20.48 - 100.0 + a.CenterMHz
	default:
		return x * 32768.0
	}
}

// HitX is the plot coordinate of a hit's global bin.
func (a Axis) HitX(global int64) float64 {
	x := float64(global)
	switch a.Mode {
	case AxisPFBBin:
		return x/32768.0 - 0.5
	case AxisFrequency:
		return x/671088.64 - 100.0 - 0.0244140625 + a.CenterMHz
	default:
		return x
	}
}

// Range is the full horizontal extent of a spectrum on this axis.
func (a Axis) Range() (min, max float64) {
	switch a.Mode {
	case AxisPFBBin:
		return 0, packets.NumPFBBins
	case AxisFrequency:
		return a.CenterMHz - 100, a.CenterMHz + 100
	default:
		return 0, packets.NumPFBBins * packets.FineBinsPerPFB
	}
}

// Label names the axis units.
func (a Axis) Label() string {
	switch a.Mode {
	case AxisPFBBin:
		return "PFB bin number"
	case AxisFrequency:
		return "Frequency (MHz)"
	default:
		return "Fine bin"
	}
}

// PlotArrays holds the arrays a plot sink draws for one spectrum.
type PlotArrays struct {
	BinX     []float64
	Power    []float64
	HitX     []float64
	HitPower []float64
}

// PlotArrays converts the spectrum to plot coordinates.
func (s *Spectrum) PlotArrays(axis Axis) PlotArrays {
	bins, powers := s.Powers()
	pa := PlotArrays{
		BinX:     make([]float64, len(bins)),
		Power:    powers,
		HitX:     make([]float64, len(s.Hits)),
		HitPower: make([]float64, len(s.Hits)),
	}
	for i, b := range bins {
		pa.BinX[i] = axis.BinX(b)
	}
	for i, h := range s.Hits {
		pa.HitX[i] = axis.HitX(h.Bin)
		pa.HitPower[i] = h.ScaledPower()
	}
	return pa
}
