package beespec

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/ucb-seti/beespec/packets"
)

// QuotaPolicy decides what the per-file quota counts.
type QuotaPolicy int

// Quota policies.
const (
	SpectraPerFile QuotaPolicy = iota
	PacketsPerFile
)

func (q QuotaPolicy) String() string {
	if q == PacketsPerFile {
		return "packets"
	}
	return "spectra"
}

// ParseQuotaPolicy accepts "spectra" or "packets".
func ParseQuotaPolicy(s string) (QuotaPolicy, error) {
	switch s {
	case "spectra", "":
		return SpectraPerFile, nil
	case "packets":
		return PacketsPerFile, nil
	}
	return SpectraPerFile, fmt.Errorf("unknown quota policy %q (want spectra or packets)", s)
}

// ErrFileQuotaReached is returned by Write once MaxFiles files have been written.
var ErrFileQuotaReached = errors.New("requested number of files written")

// FileOpenError reports an output file that could not be created. It ends the run.
type FileOpenError struct {
	Path string
	Err  error
}

func (e *FileOpenError) Error() string {
	return fmt.Sprintf("could not open output file %s: %v", e.Path, e.Err)
}

func (e *FileOpenError) Unwrap() error {
	return e.Err
}

// SegmenterConfig configures a FileSegmenter.
type SegmenterConfig struct {
	Prefix   string // files are <Prefix>_<n>.dat
	Policy   QuotaPolicy
	Quota    int // spectra or packets per file, at least 1
	MaxFiles int // 0 means no limit
	Order    packets.Normalizer
}

// FileSummary describes one closed output file.
type FileSummary struct {
	Path    string
	Number  int
	Packets int
	Spectra int
	Bytes   int64
	SHA256  string
	Start   time.Time
	End     time.Time
}

// FileSegmenter writes framed records into a numbered series of files, starting a new
// file whenever the current one holds its quota.
type FileSegmenter struct {
	cfg     SegmenterConfig
	onClose []func(FileSummary)

	file    *os.File
	buf     *bufio.Writer
	sum     hash.Hash
	writer  *packets.RecordWriter
	current FileSummary
	number  int
	done    bool
	closed  []FileSummary
}

// NewFileSegmenter checks the configuration. No file is opened until the first Write.
func NewFileSegmenter(cfg SegmenterConfig) (*FileSegmenter, error) {
	if cfg.Quota < 1 {
		return nil, fmt.Errorf("file quota must be at least 1, got %d", cfg.Quota)
	}
	if cfg.MaxFiles < 0 {
		return nil, fmt.Errorf("file limit must not be negative, got %d", cfg.MaxFiles)
	}
	if cfg.Prefix == "" {
		return nil, errors.New("empty output file prefix")
	}
	return &FileSegmenter{cfg: cfg}, nil
}

// OnClose registers a function called with the summary of every closed file.
func (s *FileSegmenter) OnClose(f func(FileSummary)) {
	s.onClose = append(s.onClose, f)
}

// FileName is the path of output file number n.
func (s *FileSegmenter) FileName(n int) string {
	return fmt.Sprintf("%s_%d.dat", s.cfg.Prefix, n)
}

func (s *FileSegmenter) needsRotation(startsSpectrum bool) bool {
	switch s.cfg.Policy {
	case PacketsPerFile:
		return s.current.Packets >= s.cfg.Quota
	default:
		return startsSpectrum && s.current.Spectra >= s.cfg.Quota
	}
}

// Write appends rec to the current file. startsSpectrum marks a packet that begins a new
// spectrum; the first packet of every file is counted as one regardless.
func (s *FileSegmenter) Write(rec packets.Record, startsSpectrum bool) error {
	if s.done {
		return ErrFileQuotaReached
	}
	if s.file != nil && s.needsRotation(startsSpectrum) {
		if err := s.closeFile(); err != nil {
			return err
		}
		if s.cfg.MaxFiles > 0 && s.number >= s.cfg.MaxFiles {
			s.done = true
			return ErrFileQuotaReached
		}
	}
	if s.file == nil {
		if err := s.openNext(); err != nil {
			return err
		}
		startsSpectrum = true
	}
	if err := s.writer.Write(rec); err != nil {
		return fmt.Errorf("writing %s: %w", s.current.Path, err)
	}
	if s.current.Packets == 0 {
		s.current.Start = rec.Time
	}
	s.current.End = rec.Time
	s.current.Packets++
	if startsSpectrum {
		s.current.Spectra++
	}
	return nil
}

func (s *FileSegmenter) openNext() error {
	s.number++
	path := s.FileName(s.number)
	fp, err := os.Create(path)
	if err != nil {
		s.done = true
		return &FileOpenError{Path: path, Err: err}
	}
	s.file = fp
	s.buf = bufio.NewWriterSize(fp, 65536)
	s.sum = sha256.New()
	s.writer = packets.NewRecordWriter(io.MultiWriter(s.buf, s.sum), s.cfg.Order)
	s.current = FileSummary{Path: path, Number: s.number}
	UpdateLogger.Printf("Opened output file %s", path)
	return nil
}

// closeFile flushes and closes the current file, then reports its summary.
func (s *FileSegmenter) closeFile() error {
	if s.file == nil {
		return nil
	}
	fp := s.file
	s.file = nil
	if err := s.buf.Flush(); err != nil {
		fp.Close()
		return fmt.Errorf("failed to flush %s, err: %w", s.current.Path, err)
	}
	if err := fp.Close(); err != nil {
		return fmt.Errorf("failed to close %s, err: %w", s.current.Path, err)
	}
	summary := s.current
	summary.Bytes = s.writer.BytesWritten()
	summary.SHA256 = hex.EncodeToString(s.sum.Sum(nil))
	s.closed = append(s.closed, summary)
	UpdateLogger.Printf("Closed output file %s: %d packets, %d spectra, %d bytes",
		summary.Path, summary.Packets, summary.Spectra, summary.Bytes)
	for _, f := range s.onClose {
		f(summary)
	}
	return nil
}

// Close flushes and closes the current file, if any. It is safe to call more than once.
func (s *FileSegmenter) Close() error {
	return s.closeFile()
}

// Closed lists the summaries of all files closed so far, in order.
func (s *FileSegmenter) Closed() []FileSummary {
	return s.closed
}

