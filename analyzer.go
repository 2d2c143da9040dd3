package beespec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ucb-seti/beespec/packets"
)

// DiscoverFiles lists <prefix>_1.dat, <prefix>_2.dat, ... up to the first missing number.
func DiscoverFiles(prefix string) []string {
	var files []string
	for n := 1; ; n++ {
		path := fmt.Sprintf("%s_%d.dat", prefix, n)
		if _, err := os.Stat(path); err != nil {
			return files
		}
		files = append(files, path)
	}
}

// FileReport is what the analyzer learned from one recorded file.
type FileReport struct {
	Path      string
	Records   int
	Spectra   int
	Anomalies AnomalyCounters
	Err       error // why reading stopped early, if it did
}

// Analyzer replays a recorded file series through the reassembler and the anomaly checks.
type Analyzer struct {
	spectrumFanout
	cfg         AnalyzerConfig
	order       packets.Normalizer
	reassembler *Reassembler
	reporter    *AnomalyReporter
	out         io.Writer
	reports     []FileReport
	spectra     int
}

// NewAnalyzer builds an analyzer for cfg. A nil mask forwards every bin.
func NewAnalyzer(cfg AnalyzerConfig, mask *PFBMask) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{
		cfg:         cfg,
		order:       packets.Normalizer{Swap: cfg.FileSwap},
		reassembler: NewReassembler(mask),
		reporter:    NewAnomalyReporter(),
		out:         os.Stdout,
	}
	a.reassembler.MinBins = cfg.MinBins
	mode, _ := ParseAxisMode(cfg.Axis)
	a.view = DefaultView()
	a.view.Axis = Axis{Mode: mode, CenterMHz: cfg.CenterMHz}
	return a, nil
}

// SetOutput redirects the report, which goes to stdout by default.
func (a *Analyzer) SetOutput(w io.Writer) {
	a.out = w
}

// AddSink registers a consumer of reassembled spectra.
func (a *Analyzer) AddSink(s SpectrumSink) {
	a.sinks = append(a.sinks, s)
}

// SetCommands sets the channel polled for commands between records.
func (a *Analyzer) SetCommands(c <-chan Command) {
	a.commands = c
}

// Reports lists what was learned from each file read so far.
func (a *Analyzer) Reports() []FileReport {
	return a.reports
}

// Run reads every file of the series in order. A damaged file is reported and the
// analyzer moves on to the next one. Run returns an error only if no file exists or
// an output cannot be written.
func (a *Analyzer) Run(ctx context.Context) (err error) {
	files := DiscoverFiles(a.cfg.Prefix)
	if len(files) == 0 {
		return fmt.Errorf("no files named %s_1.dat or later", a.cfg.Prefix)
	}
	defer func() {
		err = errors.Join(err, a.finish())
	}()
	if len(files) == 1 {
		fmt.Fprintf(a.out, "Found 1 file.\n")
	} else {
		fmt.Fprintf(a.out, "Found %d files.\n", len(files))
	}
	a.describeRun()
	if start, err := firstTimestamp(files[0], a.order); err == nil {
		fmt.Fprintf(a.out, "It appears data collection began on %s", start.Format(time.ANSIC+"\n"))
	}

	for i, path := range files {
		fmt.Fprintf(a.out, "\nParsing file %d------------------------------------\n", i+1)
		report, err := a.analyzeFile(ctx, path, i+1)
		a.reports = append(a.reports, report)
		if err != nil {
			if errors.Is(err, ErrSinkDone) || errors.Is(err, errStopRequested) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if report.Err != nil {
			fmt.Fprintf(a.out, "%s: stopped after %d records: %v\n", path, report.Records, report.Err)
		}
	}
	return nil
}

var errStopRequested = errors.New("stop requested")

// describeRun prints the settings in <prefix>.cfg, if the recorder wrote one.
func (a *Analyzer) describeRun() {
	rr, err := LoadRunRecord(a.cfg.Prefix + ".cfg")
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		ProblemLogger.Printf("Ignoring run record: %v", err)
		return
	}
	if rr.RunID != "" {
		fmt.Fprintf(a.out, "Run %s\n", rr.RunID)
	}
	fmt.Fprintf(a.out, "Recorded %d %s per file, at most %d files, %d PFB bins masked\n",
		rr.Quota(), rr.Policy, rr.FilesToWrite, packets.NumPFBBins-rr.Mask.Count())
	if rr.BoardInfo != "" {
		fmt.Fprintf(a.out, "Board info:\n%s\n", rr.BoardInfo)
	}
}

func firstTimestamp(path string, order packets.Normalizer) (time.Time, error) {
	fp, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer fp.Close()
	rec, err := packets.NewRecordReader(fp, order).Next()
	if err != nil {
		return time.Time{}, err
	}
	return rec.Time, nil
}

// analyzeFile reads one file. Problems inside the file go into the report; the returned
// error means the whole run must stop.
func (a *Analyzer) analyzeFile(ctx context.Context, path string, number int) (report FileReport, err error) {
	report.Path = path
	fp, err := os.Open(path)
	if err != nil {
		report.Err = err
		return report, nil
	}
	defer fp.Close()

	var dumper *TextDumper
	if a.cfg.TextDump {
		txtPath := fmt.Sprintf("%s_%d.txt", a.cfg.Prefix, number)
		txt, err := os.Create(txtPath)
		if err != nil {
			return report, &FileOpenError{Path: txtPath, Err: err}
		}
		defer txt.Close()
		dumper = NewTextDumper(txt)
		defer dumper.Flush()
	}

	a.reporter.Reset()
	spectraBefore := a.spectra
	defer func() {
		report.Spectra = a.spectra - spectraBefore
		report.Anomalies = a.reporter.Counters()
	}()
	rr := packets.NewRecordReader(fp, a.order)
	for {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if a.pollCommands() {
			return report, errStopRequested
		}
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Err = err
			break
		}
		report.Records++
		if dumper != nil {
			if err := dumper.WriteRecord(rec); err != nil {
				return report, err
			}
		}
		if a.cfg.ErrorChecking {
			a.printAnomalies(a.reporter.Observe(rec.Packet, rec.Time))
		}
		if s := a.reassembler.Add(rec.Packet, rec.Time); s != nil {
			a.spectra++
			if err := a.deliver(s); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (a *Analyzer) printAnomalies(found []Anomaly) {
	for _, an := range found {
		fmt.Fprintln(a.out, an.String())
	}
}

func (a *Analyzer) finish() error {
	var errs []error
	if s := a.reassembler.Flush(); s != nil && !a.finished {
		a.spectra++
		if err := a.deliver(s); err != nil && !errors.Is(err, ErrSinkDone) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.closeSinks())
	if a.cfg.ErrorChecking {
		total := a.Totals()
		fmt.Fprintf(a.out, "\nFinal report:\n")
		fmt.Fprintf(a.out, "Missing %d PFB bins\n", total.MissingBins)
		fmt.Fprintf(a.out, "%d error codes reported\n", total.ErrorCodes)
		fmt.Fprintf(a.out, "%d out of range, %d jumps\n", total.OutOfRange, total.Jumps)
	}
	fmt.Fprintf(a.out, "%d spectra reassembled\n", a.spectra)
	return errors.Join(errs...)
}

// Totals sums the anomaly counters of every file read.
func (a *Analyzer) Totals() AnomalyCounters {
	var total AnomalyCounters
	for _, r := range a.reports {
		total.Add(r.Anomalies)
	}
	return total
}

// Spectra is the number of spectra reassembled so far.
func (a *Analyzer) Spectra() int {
	return a.spectra
}
