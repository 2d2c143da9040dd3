package beespec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucb-seti/beespec/packets"
)

func TestRecorderConfigValidate(t *testing.T) {
	good := DefaultRecorderConfig()
	require.NoError(t, good.Validate())

	var tests = []struct {
		name   string
		change func(*RecorderConfig)
	}{
		{"threshold high", func(c *RecorderConfig) { c.Threshold = 255.5 }},
		{"threshold negative", func(c *RecorderConfig) { c.Threshold = -1 }},
		{"event limit zero", func(c *RecorderConfig) { c.EventLimit = 0 }},
		{"event limit high", func(c *RecorderConfig) { c.EventLimit = 257 }},
		{"port low", func(c *RecorderConfig) { c.Port = 999 }},
		{"port high", func(c *RecorderConfig) { c.Port = 62001 }},
		{"spectra per file", func(c *RecorderConfig) { c.SpectraPerFile = 0 }},
		{"packets per file", func(c *RecorderConfig) { c.PacketsPerFile = maxPerRun + 1 }},
		{"files to write", func(c *RecorderConfig) { c.FilesToWrite = 0 }},
		{"hyphen prefix", func(c *RecorderConfig) { c.Prefix = "-w" }},
		{"min bins", func(c *RecorderConfig) { c.MinBins = packets.NumPFBBins + 1 }},
		{"policy", func(c *RecorderConfig) { c.QuotaPolicy = "bytes" }},
		{"axis", func(c *RecorderConfig) { c.Axis = "time" }},
	}
	for _, test := range tests {
		c := DefaultRecorderConfig()
		test.change(&c)
		assert.Error(t, c.Validate(), test.name)
	}

	edge := DefaultRecorderConfig()
	edge.Threshold = 255
	edge.EventLimit = 256
	edge.Port = 62000
	edge.FilesToWrite = maxPerRun
	edge.QuotaPolicy = "packets"
	edge.Axis = "raw"
	assert.NoError(t, edge.Validate())
}

func TestRecorderConfigAddresses(t *testing.T) {
	c := DefaultRecorderConfig()
	assert.Equal(t, "192.168.0.2:2010", c.ListenAddr())
	c.ListenIP = "any"
	c.Port = 4000
	assert.Equal(t, ":4000", c.ListenAddr())

	now := time.Unix(1234567890, 0)
	c.Prefix = ""
	assert.Equal(t, "1234567890", c.ResolvePrefix(now))
	c.Prefix = "run"
	assert.Equal(t, "run", c.ResolvePrefix(now))
	c.AppendTimestamp = true
	assert.Equal(t, "run1234567890", c.ResolvePrefix(now))
}

func TestRecorderConfigSegmenter(t *testing.T) {
	c := DefaultRecorderConfig()
	c.SpectraPerFile = 3
	c.PacketsPerFile = 500
	c.FilesToWrite = 7
	sc := c.SegmenterConfig("p")
	assert.Equal(t, SpectraPerFile, sc.Policy)
	assert.Equal(t, 3, sc.Quota)
	assert.Equal(t, 7, sc.MaxFiles)
	assert.True(t, sc.Order.Swap)

	c.QuotaPolicy = "packets"
	c.FileSwap = false
	sc = c.SegmenterConfig("p")
	assert.Equal(t, PacketsPerFile, sc.Policy)
	assert.Equal(t, 500, sc.Quota)
	assert.False(t, sc.Order.Swap)

	c.Axis = "pfb"
	c.CenterMHz = 1420
	assert.Equal(t, Axis{Mode: AxisPFBBin, CenterMHz: 1420}, c.PlotAxis())
}

func TestRunRecord(t *testing.T) {
	mask := AllBins()
	mask[0] = false
	mask[4000] = false
	rec := &RunRecord{
		RunID:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		BoardInfo:      "BEE2 rev 2\nfirmware 3.1\n",
		SpectraPerFile: 5,
		FilesToWrite:   2,
		Mask:           mask,
	}
	var buf bytes.Buffer
	n, err := rec.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	text := buf.String()
	assert.True(t, strings.HasPrefix(text, "[RUN ID]\n01ARZ3NDEKTSV4RRFFQ69G5FAV\n[BOARD INFO]\nBEE2 rev 2\nfirmware 3.1\n"))
	assert.Contains(t, text, "[SPECTRA PER FILE]\n5\n[FILES TO WRITE]\n2\n\n[PFB MASK]\n0: 0\n1: 1\n")
	assert.True(t, strings.HasSuffix(text, "4095: 1\n"))

	back, err := ReadRunRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, back.RunID)
	assert.Equal(t, "BEE2 rev 2\nfirmware 3.1", back.BoardInfo)
	assert.Equal(t, 5, back.SpectraPerFile)
	assert.Equal(t, 2, back.FilesToWrite)
	assert.Equal(t, *mask, *back.Mask)
	assert.Equal(t, packets.NumPFBBins-2, back.Mask.Count())

	path := filepath.Join(t.TempDir(), "run.cfg")
	require.NoError(t, WriteRunRecord(path, &RunRecord{SpectraPerFile: 1, FilesToWrite: 1}))
	fp, err := os.Open(path)
	require.NoError(t, err)
	defer fp.Close()
	plain, err := ReadRunRecord(fp)
	require.NoError(t, err)
	assert.Empty(t, plain.RunID)
	assert.Equal(t, packets.NumPFBBins, plain.Mask.Count())

	_, err = ReadRunRecord(strings.NewReader("[PFB MASK]\n0: 1\n"))
	assert.Error(t, err)
	_, err = ReadRunRecord(strings.NewReader("[PFB MASK]\nbogus\n"))
	assert.Error(t, err)
	_, err = ReadRunRecord(strings.NewReader("[SPECTRA PER FILE]\nmany\n"))
	assert.Error(t, err)

	var fe *FileOpenError
	err = WriteRunRecord(filepath.Join(t.TempDir(), "missing", "run.cfg"), rec)
	assert.ErrorAs(t, err, &fe)
}

func TestRunRecordQuotaPolicy(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.SpectraPerFile = 5
	cfg.PacketsPerFile = 40960
	cfg.FilesToWrite = 3

	rr := cfg.RunRecord("id", "", nil)
	assert.Equal(t, SpectraPerFile, rr.Policy)
	assert.Equal(t, 5, rr.SpectraPerFile)
	assert.Zero(t, rr.PacketsPerFile)

	cfg.QuotaPolicy = "packets"
	rr = cfg.RunRecord("id", "", nil)
	var buf bytes.Buffer
	_, err := rr.WriteTo(&buf)
	require.NoError(t, err)
	text := buf.String()
	assert.Contains(t, text, "[QUOTA POLICY]\npackets\n[PACKETS PER FILE]\n40960\n[FILES TO WRITE]\n3\n")
	assert.NotContains(t, text, "[SPECTRA PER FILE]")

	back, err := ReadRunRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, PacketsPerFile, back.Policy)
	assert.Equal(t, 40960, back.PacketsPerFile)
	assert.Zero(t, back.SpectraPerFile)
	assert.Equal(t, 3, back.FilesToWrite)

	_, err = ReadRunRecord(strings.NewReader("[QUOTA POLICY]\nbytes\n"))
	assert.Error(t, err)
}

func TestAnalyzerConfigValidate(t *testing.T) {
	c := DefaultAnalyzerConfig()
	assert.Error(t, c.Validate())
	c.Prefix = "data"
	assert.NoError(t, c.Validate())
	c.MinBins = -1
	assert.Error(t, c.Validate())
	c.MinBins = 0
	c.Axis = "sideways"
	assert.Error(t, c.Validate())
}
