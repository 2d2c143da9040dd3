package beespec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucb-seti/beespec/packets"
)

// sliceSource replays prepared datagrams, then reports io.EOF.
type sliceSource struct {
	pkts   []RawPacket
	i      int
	closed bool
}

func (s *sliceSource) Next(ctx context.Context) (RawPacket, error) {
	if s.i >= len(s.pkts) {
		return RawPacket{}, io.EOF
	}
	s.i++
	return s.pkts[s.i-1], nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// limitSource ends a source after n packets.
type limitSource struct {
	PacketSource
	n int
}

func (l *limitSource) Next(ctx context.Context) (RawPacket, error) {
	if l.n <= 0 {
		return RawPacket{}, io.EOF
	}
	l.n--
	return l.PacketSource.Next(ctx)
}

// captureSink keeps everything it is given.
type captureSink struct {
	spectra []*Spectrum
	views   []View
	closed  int
}

func (c *captureSink) Consume(s *Spectrum, v View) error {
	c.spectra = append(c.spectra, s)
	c.views = append(c.views, v)
	return nil
}

func (c *captureSink) Close() error {
	c.closed++
	return nil
}

// spectraSource builds nspectra sweeps over logical bins 0..binsPer-1, one hit per packet.
func spectraSource(nspectra, binsPer int) *sliceSource {
	src := new(sliceSource)
	t0 := time.Unix(1300000000, 0)
	for i := 0; i < nspectra; i++ {
		for lb := 0; lb < binsPer; lb++ {
			p := packetAt(lb, uint32(100+lb), packets.Hit{FineBin: uint32(lb), Power: uint32(1000 + i)})
			src.pkts = append(src.pkts, RawPacket{
				Data: p.Encode(packets.NetworkOrder),
				Time: t0.Add(time.Duration(i*binsPer+lb) * time.Millisecond),
			})
		}
	}
	return src
}

func testRecorderConfig(t *testing.T) (RecorderConfig, string) {
	cfg := DefaultRecorderConfig()
	cfg.Write = true
	cfg.FilesToWrite = 100
	return cfg, filepath.Join(t.TempDir(), "rec")
}

func TestRecorderRotation(t *testing.T) {
	cfg, prefix := testRecorderConfig(t)
	cfg.SpectraPerFile = 2
	rec, err := NewRecorder(cfg, prefix, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	rec.SetOutput(&out)
	sink := new(captureSink)
	rec.AddSink(sink)
	var closed []FileSummary
	rec.OnFileClosed(func(fs FileSummary) { closed = append(closed, fs) })

	require.NoError(t, rec.Run(context.Background(), spectraSource(5, 8)))

	st := rec.Stats()
	assert.Equal(t, 40, st.Packets)
	assert.Equal(t, 5, st.Spectra)
	assert.Equal(t, 5, st.Delivered)
	require.Len(t, st.Files, 3)
	var counts []int
	for _, fs := range st.Files {
		counts = append(counts, fs.Spectra)
	}
	assert.Equal(t, []int{2, 2, 1}, counts)
	assert.Equal(t, st.Files, closed)

	// Four wraps from logical 7 back to 0 skip 4088 wire bins each.
	assert.Equal(t, 4*(packets.NumPFBBins-8), st.Anomalies.MissingBins)
	assert.Equal(t, 4, st.Anomalies.Jumps)
	assert.Equal(t, 40, st.Anomalies.Packets)

	require.Len(t, sink.spectra, 5)
	assert.Equal(t, 1, sink.closed)
	for i, s := range sink.spectra {
		assert.Equal(t, 8, s.BinsFilled())
		assert.Len(t, s.Hits, 8)
		assert.Equal(t, uint32(1000+i), s.Hits[0].Power)
	}
	assert.Contains(t, out.String(), "Final report:")
	assert.Contains(t, out.String(), prefix+"_3.dat")
	assert.Contains(t, out.String(), "max power")

	// Files are written with the file byte order, not the wire order.
	fp, err := os.Open(prefix + "_1.dat")
	require.NoError(t, err)
	defer fp.Close()
	first, err := packets.NewRecordReader(fp, packets.SwappedOrder).Next()
	require.NoError(t, err)
	assert.Equal(t, packets.WireBin(0), first.Packet.Bin)
	assert.Equal(t, uint32(100), first.Packet.Summary)
}

func TestRecorderPerFileAnomalies(t *testing.T) {
	cfg, prefix := testRecorderConfig(t)
	cfg.QuotaPolicy = "packets"
	cfg.PacketsPerFile = 3
	rec, err := NewRecorder(cfg, prefix, nil)
	require.NoError(t, err)
	var out bytes.Buffer
	rec.SetOutput(&out)

	// The gap from 2 to 5 opens the second file.
	src := new(sliceSource)
	t0 := time.Unix(1300000000, 0)
	for i, lb := range []int{0, 1, 2, 5, 6, 7} {
		src.pkts = append(src.pkts, RawPacket{
			Data: packetAt(lb, 100).Encode(packets.NetworkOrder),
			Time: t0.Add(time.Duration(i) * time.Millisecond),
		})
	}
	require.NoError(t, rec.Run(context.Background(), src))

	reports := strings.Split(out.String(), "File ")[1:]
	require.Len(t, reports, 2)
	assert.Contains(t, reports[0], prefix+"_1.dat: 3 packets")
	assert.Contains(t, reports[0], "3 packets, missing 0 PFB bins, 0 error codes reported, 0 out of range, 0 jumps (good)")
	assert.Contains(t, reports[1], prefix+"_2.dat: 3 packets")
	assert.Contains(t, reports[1], "3 packets, missing 2 PFB bins, 0 error codes reported, 0 out of range, 1 jumps (bad)")

	st := rec.Stats()
	assert.Equal(t, 2, st.Anomalies.MissingBins)
	assert.Equal(t, 1, st.Anomalies.Jumps)
	assert.Equal(t, 6, st.Anomalies.Packets)
}

func TestRecorderMaskAndMalformed(t *testing.T) {
	cfg, prefix := testRecorderConfig(t)
	cfg.FileSwap = false
	mask := AllBins()
	mask[1] = false
	rec, err := NewRecorder(cfg, prefix, mask)
	require.NoError(t, err)
	rec.SetOutput(io.Discard)
	sink := new(captureSink)
	rec.AddSink(sink)

	src := spectraSource(1, 3)
	bad := RawPacket{Data: make([]byte, 13), Time: time.Now()}
	src.pkts = append(src.pkts[:1], append([]RawPacket{bad}, src.pkts[1:]...)...)
	require.NoError(t, rec.Run(context.Background(), src))

	st := rec.Stats()
	assert.Equal(t, 4, st.Packets)
	assert.Equal(t, 1, st.Malformed)
	require.Len(t, sink.spectra, 1)
	assert.Equal(t, 2, sink.spectra[0].BinsFilled())

	fp, err := os.Open(prefix + "_1.dat")
	require.NoError(t, err)
	defer fp.Close()
	rr := packets.NewRecordReader(fp, packets.NetworkOrder)
	var lengths []int
	for {
		r, err := rr.Next()
		if err != nil {
			assert.Equal(t, io.EOF, err)
			break
		}
		lengths = append(lengths, r.Length())
	}
	// The masked bin is kept as a bare header.
	assert.Equal(t, []int{20, 12, 20}, lengths)
}

func TestRecorderFileQuota(t *testing.T) {
	cfg, prefix := testRecorderConfig(t)
	cfg.FilesToWrite = 2
	rec, err := NewRecorder(cfg, prefix, nil)
	require.NoError(t, err)
	rec.SetOutput(io.Discard)
	src := spectraSource(5, 4)
	require.NoError(t, rec.Run(context.Background(), src))
	st := rec.Stats()
	assert.Len(t, st.Files, 2)
	assert.Equal(t, 2, st.Spectra)
	assert.Less(t, src.i, len(src.pkts))
	_, err = os.Stat(prefix + "_3.dat")
	assert.True(t, os.IsNotExist(err))
}

func TestRecorderCommands(t *testing.T) {
	cfg := DefaultRecorderConfig()
	rec, err := NewRecorder(cfg, "", nil)
	require.NoError(t, err)
	rec.SetOutput(io.Discard)
	sink := new(captureSink)
	rec.AddSink(sink)
	commands := make(chan Command, 4)
	commands <- CmdTogglePause
	commands <- CmdToggleHits
	rec.SetCommands(commands)
	require.NoError(t, rec.Run(context.Background(), spectraSource(3, 4)))
	assert.Empty(t, sink.spectra)
	assert.Equal(t, 3, rec.Stats().Spectra)
	assert.True(t, rec.View().Paused)
	assert.False(t, rec.View().ShowHits)

	rec, err = NewRecorder(cfg, "", nil)
	require.NoError(t, err)
	rec.SetOutput(io.Discard)
	commands = make(chan Command, 1)
	commands <- CmdStop
	rec.SetCommands(commands)
	src := spectraSource(3, 4)
	require.NoError(t, rec.Run(context.Background(), src))
	assert.Zero(t, src.i)
}

func TestRecorderConfigRejected(t *testing.T) {
	cfg := DefaultRecorderConfig()
	cfg.Port = 80
	_, err := NewRecorder(cfg, "x", nil)
	assert.Error(t, err)
}

func TestRecorderOverUDP(t *testing.T) {
	src, err := NewUDPSource("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Close()

	cfg := DefaultRecorderConfig()
	rec, err := NewRecorder(cfg, "", nil)
	require.NoError(t, err)
	rec.SetOutput(io.Discard)
	sink := new(captureSink)
	rec.AddSink(sink)

	const npackets = 300
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- rec.Run(ctx, &limitSource{PacketSource: src, n: npackets})
	}()

	conn, err := net.Dial("udp", src.Addr())
	require.NoError(t, err)
	defer conn.Close()
	g := NewGenerator(GeneratorConfig{Seed: 3})
	n, err := g.Send(ctx, conn, npackets, 0)
	require.NoError(t, err)
	assert.Equal(t, npackets, n)

	require.NoError(t, <-done)
	st := rec.Stats()
	require.NotZero(t, st.Packets, "no datagrams arrived over loopback")
	assert.Zero(t, st.Malformed)
	require.Len(t, sink.spectra, 1)
	s := sink.spectra[0]
	assert.Equal(t, st.Packets, s.BinsFilled())
	assert.Len(t, s.Hits, FixedHitsPerPacket*st.Packets)
	if st.Packets == npackets {
		assert.Zero(t, st.Anomalies.MissingBins)
		assert.True(t, st.Anomalies.Good())
	}
}

func TestUDPSourceCancel(t *testing.T) {
	src, err := NewUDPSource("127.0.0.1:0")
	require.NoError(t, err)
	defer src.Close()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUDPSourceBadAddress(t *testing.T) {
	_, err := NewUDPSource("not-an-address:99999")
	var se *SocketError
	assert.True(t, errors.As(err, &se))
}
