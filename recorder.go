package beespec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ucb-seti/beespec/packets"
)

// RecorderStats summarizes a recording session.
type RecorderStats struct {
	Packets   int // datagrams received
	Malformed int // datagrams dropped by the decoder
	Spectra   int // spectra completed
	Delivered int // spectra handed to sinks
	Discarded int // spectra dropped by the completeness check
	Rejected  int // packets with an out-of-range bin
	Anomalies AnomalyCounters
	Files     []FileSummary
}

// Recorder is one recording session. It owns all run state: the reassembler, the anomaly
// reporter, the output file series, the sinks and the view. A Recorder runs on a single
// goroutine; commands from other goroutines reach it only through its command channel.
type Recorder struct {
	spectrumFanout
	wireOrder   packets.Normalizer
	mask        *PFBMask
	reassembler *Reassembler
	reporter    *AnomalyReporter
	segmenter   *FileSegmenter
	out         io.Writer

	totals    AnomalyCounters
	packets   int
	malformed int
	maxPower  uint32
	maxBin    int
}

// NewRecorder builds a session from cfg. Output files are written under prefix when
// cfg.Write is set; the prefix is usually cfg.ResolvePrefix(time.Now()).
func NewRecorder(cfg RecorderConfig, prefix string, mask *PFBMask) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{
		wireOrder:   packets.Normalizer{Swap: cfg.WireSwap},
		mask:        mask,
		reassembler: NewReassembler(mask),
		reporter:    NewAnomalyReporter(),
		out:         os.Stdout,
		maxBin:      -1,
	}
	r.reassembler.MinBins = cfg.MinBins
	r.view = DefaultView()
	r.view.Axis = cfg.PlotAxis()
	if cfg.Write {
		seg, err := NewFileSegmenter(cfg.SegmenterConfig(prefix))
		if err != nil {
			return nil, err
		}
		seg.OnClose(r.reportFile)
		r.segmenter = seg
	}
	return r, nil
}

// SetOutput redirects the human-readable reports, which go to stdout by default.
func (r *Recorder) SetOutput(w io.Writer) {
	r.out = w
}

// AddSink registers a consumer of completed spectra.
func (r *Recorder) AddSink(s SpectrumSink) {
	r.sinks = append(r.sinks, s)
}

// SetCommands sets the channel polled for commands between packets.
func (r *Recorder) SetCommands(c <-chan Command) {
	r.commands = c
}

// OnFileClosed registers a function called with the summary of every closed output file.
func (r *Recorder) OnFileClosed(f func(FileSummary)) {
	if r.segmenter != nil {
		r.segmenter.OnClose(f)
	}
}

// View returns the current display state.
func (r *Recorder) View() View {
	return r.view
}

// reportFile prints the anomaly summary of a closed file and starts counting afresh.
func (r *Recorder) reportFile(fs FileSummary) {
	c := r.reporter.Counters()
	fmt.Fprintf(r.out, "File %s: %d packets, %d spectra, %d bytes\n", fs.Path, fs.Packets, fs.Spectra, fs.Bytes)
	if r.maxBin >= 0 {
		fmt.Fprintf(r.out, "  max power %g in PFB bin %d\n", packets.ScaledPower(r.maxPower), r.maxBin)
	}
	fmt.Fprintf(r.out, "  %s\n", c)
	r.totals.Add(c)
	r.reporter.Reset()
	r.maxPower, r.maxBin = 0, -1
}

// Run receives packets from src until ctx is done, src ends, the file quota is reached, a
// sink is finished or a CmdStop arrives. The open output file is always flushed and closed
// before Run returns. Only resource failures are returned as errors.
func (r *Recorder) Run(ctx context.Context, src PacketSource) (err error) {
	defer func() {
		err = errors.Join(err, r.finish())
	}()
	for {
		if r.pollCommands() {
			return nil
		}
		raw, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = r.HandlePacket(raw)
		if errors.Is(err, ErrFileQuotaReached) || errors.Is(err, ErrSinkDone) {
			UpdateLogger.Printf("Stopping: %v", err)
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// HandlePacket runs one datagram through decode, anomaly checks, file output and reassembly.
// A malformed datagram is counted and dropped.
func (r *Recorder) HandlePacket(raw RawPacket) error {
	r.packets++
	p, err := packets.Decode(raw.Data, r.wireOrder)
	if err != nil {
		r.malformed++
		ProblemLogger.Printf("Dropped datagram %d: %v", r.packets, err)
		return nil
	}
	// Anomalies are observed after Write so that p counts against the file it lands in.
	if r.segmenter != nil {
		rec := packets.Record{Time: raw.Time, Packet: p}
		if !p.InRange() || !r.mask.Allows(p.LogicalBin()) {
			rec.Packet = p.HeaderOnly()
		}
		if err := r.segmenter.Write(rec, r.reassembler.StartsSpectrum(p)); err != nil {
			return err
		}
	}
	LogAnomalies(ProblemLogger, r.reporter.Observe(p, raw.Time))
	if p.InRange() && p.Summary >= r.maxPower {
		r.maxPower, r.maxBin = p.Summary, p.LogicalBin()
	}
	return r.deliver(r.reassembler.Add(p, raw.Time))
}

// finish emits the trailing spectrum unless a sink is already satisfied, closes the output
// file and the sinks, and prints the final report.
func (r *Recorder) finish() error {
	var errs []error
	if !r.finished {
		if err := r.deliver(r.reassembler.Flush()); err != nil && !errors.Is(err, ErrSinkDone) {
			errs = append(errs, err)
		}
	}
	if r.segmenter != nil {
		errs = append(errs, r.segmenter.Close())
	}
	errs = append(errs, r.closeSinks())
	st := r.Stats()
	fmt.Fprintf(r.out, "\nFinal report:\n")
	fmt.Fprintf(r.out, "%d packets received, %d malformed, %d spectra (%d discarded as incomplete)\n",
		st.Packets, st.Malformed, st.Spectra, st.Discarded)
	fmt.Fprintf(r.out, "%s\n", st.Anomalies)
	return errors.Join(errs...)
}

// Stats reports the session totals so far.
func (r *Recorder) Stats() RecorderStats {
	all := r.totals
	all.Add(r.reporter.Counters())
	st := RecorderStats{
		Packets:   r.packets,
		Malformed: r.malformed,
		Spectra:   r.reassembler.Emitted(),
		Delivered: r.delivered,
		Discarded: r.reassembler.Discarded(),
		Rejected:  r.reassembler.Rejected(),
		Anomalies: all,
	}
	if r.segmenter != nil {
		st.Files = r.segmenter.Closed()
	}
	return st
}
