package beespec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucb-seti/beespec/packets"
)

// feedSpectra writes nspectra spectra of binsPer bins each through a segmenter,
// using a Reassembler to find the spectrum boundaries.
func feedSpectra(t *testing.T, seg *FileSegmenter, nspectra, binsPer int) error {
	t.Helper()
	r := NewReassembler(nil)
	t0 := time.Unix(1200000000, 0)
	for i := 0; i < nspectra; i++ {
		for lb := 0; lb < binsPer; lb++ {
			p := packetAt(lb, uint32(i))
			ts := t0.Add(time.Duration(i*binsPer+lb) * time.Millisecond)
			if err := seg.Write(packets.Record{Time: ts, Packet: p}, r.StartsSpectrum(p)); err != nil {
				return err
			}
			r.Add(p, ts)
		}
	}
	return nil
}

func TestFileRotationBySpectra(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "run")
	seg, err := NewFileSegmenter(SegmenterConfig{Prefix: prefix, Policy: SpectraPerFile, Quota: 2,
		Order: packets.SwappedOrder})
	require.NoError(t, err)
	closes := make(map[string]int)
	seg.OnClose(func(fs FileSummary) { closes[fs.Path]++ })

	require.NoError(t, feedSpectra(t, seg, 5, 10))
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())

	closed := seg.Closed()
	require.Len(t, closed, 3)
	var counts, pkts []int
	for i, fs := range closed {
		counts = append(counts, fs.Spectra)
		pkts = append(pkts, fs.Packets)
		assert.Equal(t, i+1, fs.Number)
		assert.Equal(t, seg.FileName(i+1), fs.Path)
		assert.Equal(t, 1, closes[fs.Path], "file %s closed %d times", fs.Path, closes[fs.Path])
	}
	assert.Equal(t, []int{2, 2, 1}, counts)
	assert.Equal(t, []int{20, 20, 10}, pkts)
	assert.Equal(t, prefix+"_1.dat", closed[0].Path)

	// Each file holds exactly its records, starting at a spectrum boundary.
	for _, fs := range closed {
		data, err := os.ReadFile(fs.Path)
		require.NoError(t, err)
		assert.EqualValues(t, len(data), fs.Bytes)
		sum := sha256.Sum256(data)
		assert.Equal(t, hex.EncodeToString(sum[:]), fs.SHA256)

		fp, err := os.Open(fs.Path)
		require.NoError(t, err)
		rr := packets.NewRecordReader(fp, packets.SwappedOrder)
		first, err := rr.Next()
		require.NoError(t, err)
		assert.Equal(t, 0, first.Packet.LogicalBin())
		assert.Equal(t, fs.Start, first.Time)
		for err == nil {
			_, err = rr.Next()
		}
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, fs.Packets, rr.Count())
		fp.Close()
	}
}

func TestFileRotationByPackets(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "pk")
	seg, err := NewFileSegmenter(SegmenterConfig{Prefix: prefix, Policy: PacketsPerFile, Quota: 7})
	require.NoError(t, err)
	require.NoError(t, feedSpectra(t, seg, 2, 10))
	require.NoError(t, seg.Close())
	var pkts []int
	for _, fs := range seg.Closed() {
		pkts = append(pkts, fs.Packets)
	}
	assert.Equal(t, []int{7, 7, 6}, pkts)
}

func TestFileQuotaReached(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "q")
	seg, err := NewFileSegmenter(SegmenterConfig{Prefix: prefix, Quota: 1, MaxFiles: 2})
	require.NoError(t, err)
	err = feedSpectra(t, seg, 3, 4)
	assert.True(t, errors.Is(err, ErrFileQuotaReached))
	assert.Len(t, seg.Closed(), 2)
	assert.ErrorIs(t, seg.Write(packets.Record{Time: time.Now(), Packet: &packets.Packet{}}, true), ErrFileQuotaReached)
	_, err = os.Stat(seg.FileName(3))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, seg.Close())
}

func TestFileOpenError(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "no", "such", "dir", "run")
	seg, err := NewFileSegmenter(SegmenterConfig{Prefix: prefix, Quota: 1})
	require.NoError(t, err)
	err = seg.Write(packets.Record{Time: time.Now(), Packet: packetAt(0, 1)}, false)
	var foe *FileOpenError
	if assert.True(t, errors.As(err, &foe)) {
		assert.Equal(t, prefix+"_1.dat", foe.Path)
		assert.Contains(t, foe.Error(), prefix+"_1.dat")
	}
	// The segmenter gives up after a failed open.
	err = seg.Write(packets.Record{Time: time.Now(), Packet: packetAt(1, 1)}, false)
	assert.Error(t, err)
}

func TestSegmenterConfigErrors(t *testing.T) {
	_, err := NewFileSegmenter(SegmenterConfig{Prefix: "x", Quota: 0})
	assert.Error(t, err)
	_, err = NewFileSegmenter(SegmenterConfig{Prefix: "x", Quota: 1, MaxFiles: -1})
	assert.Error(t, err)
	_, err = NewFileSegmenter(SegmenterConfig{Quota: 1})
	assert.Error(t, err)

	for _, s := range []string{"spectra", "packets"} {
		q, err := ParseQuotaPolicy(s)
		assert.NoError(t, err)
		assert.Equal(t, s, q.String())
	}
	_, err = ParseQuotaPolicy("bytes")
	assert.Error(t, err)
}
