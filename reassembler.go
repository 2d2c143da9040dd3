package beespec

import (
	"time"

	"github.com/ucb-seti/beespec/packets"
)

// Reassembler turns the stream of decoded packets into spectra. A spectrum ends when a
// packet's logical bin is not greater than the previous packet's, so the stream may begin
// mid-spectrum and masked or lost bins never cause a false boundary.
type Reassembler struct {
	Mask    *PFBMask // nil forwards every bin
	MinBins int      // spectra with fewer filled bins are discarded at finalization

	lastLogical int
	current     *Spectrum
	emitted     int
	discarded   int
	rejected    int
	packets     int
}

// NewReassembler creates a Reassembler that keeps spectra holding at least one bin.
func NewReassembler(mask *PFBMask) *Reassembler {
	return &Reassembler{Mask: mask, MinBins: 1, lastLogical: -1}
}

// StartsSpectrum reports whether Add(p) would finalize the spectrum in progress.
// Packets with an out-of-range bin never do.
func (r *Reassembler) StartsSpectrum(p *packets.Packet) bool {
	return p.InRange() && p.LogicalBin() <= r.lastLogical
}

// Add folds one packet into the spectrum in progress. When the packet begins a new
// spectrum, the finished one is returned (or nil if it was empty or too sparse).
func (r *Reassembler) Add(p *packets.Packet, t time.Time) *Spectrum {
	if !p.InRange() {
		r.rejected++
		return nil
	}
	r.packets++
	logical := p.LogicalBin()
	var done *Spectrum
	if logical <= r.lastLogical {
		done = r.finalize()
	}
	if r.current == nil {
		r.current = newSpectrum(r.emitted)
		r.current.Timestamp = t
	}
	if r.Mask.Allows(logical) {
		r.current.setSummary(logical, p.Summary)
		for _, h := range p.Hits {
			r.current.Hits = append(r.current.Hits, GlobalHit{
				Bin:   packets.GlobalBin(h.FineBin, logical),
				Power: h.Power,
			})
		}
	}
	r.lastLogical = logical
	return done
}

// Flush finalizes the trailing spectrum at the end of a stream, under the same
// completeness rule as Add. The next packet starts afresh.
func (r *Reassembler) Flush() *Spectrum {
	done := r.finalize()
	r.lastLogical = -1
	return done
}

func (r *Reassembler) finalize() *Spectrum {
	s := r.current
	r.current = nil
	if s == nil {
		return nil
	}
	if s.Empty() || s.BinsFilled() < r.MinBins {
		r.discarded++
		return nil
	}
	r.emitted++
	return s
}

// Emitted counts the spectra returned so far.
func (r *Reassembler) Emitted() int {
	return r.emitted
}

// Discarded counts finalized spectra dropped by the completeness check.
func (r *Reassembler) Discarded() int {
	return r.discarded
}

// Rejected counts packets ignored because their bin was out of range.
func (r *Reassembler) Rejected() int {
	return r.rejected
}

// Packets counts the packets folded into spectra.
func (r *Reassembler) Packets() int {
	return r.packets
}
