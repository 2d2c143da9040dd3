package beespec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ucb-seti/beespec/packets"
)

// RecorderConfig holds every setting of a recording run. It is filled by viper.
type RecorderConfig struct {
	ListenIP        string  `mapstructure:"listen_ip"` // "ANY" binds all interfaces
	Port            int     `mapstructure:"port"`
	Prefix          string  `mapstructure:"prefix"` // empty means the unix time at startup
	AppendTimestamp bool    `mapstructure:"append_timestamp"`
	Write           bool    `mapstructure:"write"`
	QuotaPolicy     string  `mapstructure:"quota_policy"`
	SpectraPerFile  int     `mapstructure:"spectra_per_file"`
	PacketsPerFile  int     `mapstructure:"packets_per_file"`
	FilesToWrite    int     `mapstructure:"files_to_write"`
	WireSwap        bool    `mapstructure:"wire_swap"`
	FileSwap        bool    `mapstructure:"file_swap"`
	PFBMask         string  `mapstructure:"pfb_mask"`
	MinBins         int     `mapstructure:"min_bins"`
	SerialPort      string  `mapstructure:"serial_port"` // empty skips the BEE2 handshake
	Threshold       float64 `mapstructure:"threshold"`
	EventLimit      int     `mapstructure:"event_limit"`
	Axis            string  `mapstructure:"axis"` // "frequency", "bin" or "raw"
	CenterMHz       float64 `mapstructure:"center_mhz"`
}

// DefaultRecorderConfig has the settings of the original lab setup.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		ListenIP:       "192.168.0.2",
		Port:           2010,
		QuotaPolicy:    "spectra",
		SpectraPerFile: 1,
		PacketsPerFile: 100000,
		FilesToWrite:   1,
		WireSwap:       false,
		FileSwap:       true,
		PFBMask:        DefaultPFBMaskPath,
		MinBins:        1,
		SerialPort:     "/dev/ttyS1",
		Threshold:      0.09375,
		EventLimit:     128,
		Axis:           "frequency",
		CenterMHz:      DefaultCenterMHz,
	}
}

const maxPerRun = 1000000000

// Validate checks the ranges the instrument and the file series accept.
func (c *RecorderConfig) Validate() error {
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("threshold scaler %g must be in range 0 to 255", c.Threshold)
	}
	if c.EventLimit < 1 || c.EventLimit > 256 {
		return fmt.Errorf("event limit %d must be in range 1 to 256", c.EventLimit)
	}
	if c.Port < 1000 || c.Port > 62000 {
		return fmt.Errorf("server port %d must be between 1000 and 62000", c.Port)
	}
	if c.SpectraPerFile < 1 || c.SpectraPerFile > maxPerRun {
		return fmt.Errorf("spectra per file %d must be within the range 1 to 10^9", c.SpectraPerFile)
	}
	if c.PacketsPerFile < 1 || c.PacketsPerFile > maxPerRun {
		return fmt.Errorf("packets per file %d must be within the range 1 to 10^9", c.PacketsPerFile)
	}
	if c.FilesToWrite < 1 || c.FilesToWrite > maxPerRun {
		return fmt.Errorf("files to write %d must be within the range 1 to 10^9", c.FilesToWrite)
	}
	if strings.HasPrefix(c.Prefix, "-") {
		return fmt.Errorf("file prefix %q must not begin with a hyphen", c.Prefix)
	}
	if c.MinBins < 0 || c.MinBins > packets.NumPFBBins {
		return fmt.Errorf("minimum bins per spectrum %d must be in range 0 to %d", c.MinBins, packets.NumPFBBins)
	}
	if _, err := ParseQuotaPolicy(c.QuotaPolicy); err != nil {
		return err
	}
	if _, err := ParseAxisMode(c.Axis); err != nil {
		return err
	}
	return nil
}

// ListenAddr is the host:port to bind.
func (c *RecorderConfig) ListenAddr() string {
	host := c.ListenIP
	if strings.EqualFold(host, "ANY") {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// ResolvePrefix returns the output prefix: the configured one or the unix time at t,
// followed by the unix time when AppendTimestamp is set.
func (c *RecorderConfig) ResolvePrefix(t time.Time) string {
	stamp := strconv.FormatInt(t.Unix(), 10)
	if c.Prefix == "" {
		return stamp
	}
	if c.AppendTimestamp {
		return c.Prefix + stamp
	}
	return c.Prefix
}

// SegmenterConfig derives the file series settings for a resolved prefix.
func (c *RecorderConfig) SegmenterConfig(prefix string) SegmenterConfig {
	policy, _ := ParseQuotaPolicy(c.QuotaPolicy)
	quota := c.SpectraPerFile
	if policy == PacketsPerFile {
		quota = c.PacketsPerFile
	}
	return SegmenterConfig{
		Prefix:   prefix,
		Policy:   policy,
		Quota:    quota,
		MaxFiles: c.FilesToWrite,
		Order:    packets.Normalizer{Swap: c.FileSwap},
	}
}

// RunRecord describes a recording made with this configuration, for the .cfg file.
func (c *RecorderConfig) RunRecord(runID, boardInfo string, mask *PFBMask) *RunRecord {
	policy, _ := ParseQuotaPolicy(c.QuotaPolicy)
	rr := &RunRecord{
		RunID:        runID,
		BoardInfo:    boardInfo,
		Policy:       policy,
		FilesToWrite: c.FilesToWrite,
		Mask:         mask,
	}
	if policy == PacketsPerFile {
		rr.PacketsPerFile = c.PacketsPerFile
	} else {
		rr.SpectraPerFile = c.SpectraPerFile
	}
	return rr
}

// PlotAxis is the configured plot axis.
func (c *RecorderConfig) PlotAxis() Axis {
	mode, _ := ParseAxisMode(c.Axis)
	return Axis{Mode: mode, CenterMHz: c.CenterMHz}
}

// ParseAxisMode accepts "frequency", "bin" or "raw".
func ParseAxisMode(s string) (AxisMode, error) {
	switch strings.ToLower(s) {
	case "frequency", "freq", "":
		return AxisFrequency, nil
	case "bin", "pfb":
		return AxisPFBBin, nil
	case "raw":
		return AxisRaw, nil
	}
	return AxisFrequency, fmt.Errorf("unknown plot axis %q (want frequency, bin or raw)", s)
}

// RunRecord is the content of the <prefix>.cfg file written at the start of a recording.
// Only the quota of Policy is written.
type RunRecord struct {
	RunID          string
	BoardInfo      string
	Policy         QuotaPolicy
	SpectraPerFile int
	PacketsPerFile int
	FilesToWrite   int
	Mask           *PFBMask
}

// WriteTo writes the record in the sectioned text format read by ReadRunRecord.
func (r *RunRecord) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	if r.RunID != "" {
		fmt.Fprintf(&b, "[RUN ID]\n%s\n", r.RunID)
	}
	if r.BoardInfo != "" {
		fmt.Fprintf(&b, "[BOARD INFO]\n%s\n", strings.TrimRight(r.BoardInfo, "\n"))
	}
	if r.Policy == PacketsPerFile {
		fmt.Fprintf(&b, "[QUOTA POLICY]\n%s\n", r.Policy)
		fmt.Fprintf(&b, "[PACKETS PER FILE]\n%d\n", r.PacketsPerFile)
	} else {
		fmt.Fprintf(&b, "[SPECTRA PER FILE]\n%d\n", r.SpectraPerFile)
	}
	fmt.Fprintf(&b, "[FILES TO WRITE]\n%d\n", r.FilesToWrite)
	b.WriteString("\n[PFB MASK]\n")
	mask := r.Mask
	if mask == nil {
		mask = AllBins()
	}
	for i, ok := range mask {
		v := 0
		if ok {
			v = 1
		}
		fmt.Fprintf(&b, "%d: %d\n", i, v)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// WriteRunRecord creates path and writes r into it.
func WriteRunRecord(path string, r *RunRecord) error {
	fp, err := os.Create(path)
	if err != nil {
		return &FileOpenError{Path: path, Err: err}
	}
	if _, err := r.WriteTo(fp); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

// LoadRunRecord reads the .cfg file at path.
func LoadRunRecord(path string) (*RunRecord, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	rr, err := ReadRunRecord(fp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rr, nil
}

// Quota is the per-file quota of the record's policy.
func (r *RunRecord) Quota() int {
	if r.Policy == PacketsPerFile {
		return r.PacketsPerFile
	}
	return r.SpectraPerFile
}

// ReadRunRecord parses a .cfg file. Unknown sections are ignored.
func ReadRunRecord(r io.Reader) (*RunRecord, error) {
	rec := &RunRecord{Mask: new(PFBMask)}
	sc := bufio.NewScanner(r)
	section := ""
	var board []string
	nmask := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line
			continue
		}
		if line == "" && section != "[BOARD INFO]" {
			continue
		}
		switch section {
		case "[RUN ID]":
			rec.RunID = line
		case "[BOARD INFO]":
			board = append(board, line)
		case "[QUOTA POLICY]":
			policy, err := ParseQuotaPolicy(line)
			if err != nil {
				return nil, err
			}
			rec.Policy = policy
		case "[SPECTRA PER FILE]", "[PACKETS PER FILE]", "[FILES TO WRITE]":
			v, err := strconv.Atoi(line)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", section, err)
			}
			switch section {
			case "[SPECTRA PER FILE]":
				rec.SpectraPerFile = v
			case "[PACKETS PER FILE]":
				rec.PacketsPerFile = v
			default:
				rec.FilesToWrite = v
			}
		case "[PFB MASK]":
			idx, val, ok := strings.Cut(line, ":")
			if !ok {
				return nil, fmt.Errorf("bad PFB mask line %q", line)
			}
			i, err1 := strconv.Atoi(strings.TrimSpace(idx))
			v, err2 := strconv.Atoi(strings.TrimSpace(val))
			if err := errors.Join(err1, err2); err != nil {
				return nil, fmt.Errorf("bad PFB mask line %q: %w", line, err)
			}
			if i < 0 || i >= packets.NumPFBBins {
				return nil, fmt.Errorf("PFB mask bin %d out of range", i)
			}
			rec.Mask[i] = v != 0
			nmask++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if nmask != packets.NumPFBBins {
		return nil, fmt.Errorf("PFB mask section has %d entries, need %d", nmask, packets.NumPFBBins)
	}
	rec.BoardInfo = strings.TrimRight(strings.Join(board, "\n"), "\n")
	return rec, nil
}

// AnalyzerConfig holds the settings of an offline analysis. It is filled by viper.
type AnalyzerConfig struct {
	Prefix        string  `mapstructure:"prefix"` // reads <prefix>_1.dat, <prefix>_2.dat, ...
	FileSwap      bool    `mapstructure:"file_swap"`
	ErrorChecking bool    `mapstructure:"errors"`
	TextDump      bool    `mapstructure:"text"`
	MinBins       int     `mapstructure:"min_bins"`
	PFBMask       string  `mapstructure:"pfb_mask"` // empty forwards every bin
	Axis          string  `mapstructure:"axis"`
	CenterMHz     float64 `mapstructure:"center_mhz"`
}

// DefaultAnalyzerConfig reads legacy recordings.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		FileSwap:  true,
		MinBins:   1,
		Axis:      "frequency",
		CenterMHz: DefaultCenterMHz,
	}
}

// Validate checks the analyzer settings.
func (c *AnalyzerConfig) Validate() error {
	if c.Prefix == "" {
		return errors.New("no file prefix given")
	}
	if c.MinBins < 0 || c.MinBins > packets.NumPFBBins {
		return fmt.Errorf("minimum bins per spectrum %d must be in range 0 to %d", c.MinBins, packets.NumPFBBins)
	}
	_, err := ParseAxisMode(c.Axis)
	return err
}
