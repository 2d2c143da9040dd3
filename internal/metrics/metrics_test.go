package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ucb-seti/beespec"
)

// testSpectrum has two half-scale bins and three hits.
func testSpectrum() *beespec.Spectrum {
	s := &beespec.Spectrum{Timestamp: time.Unix(1300000000, 0)}
	s.Summary[10] = 1 << 30
	s.Filled[10] = true
	s.Summary[11] = 1 << 29
	s.Filled[11] = true
	s.Hits = []beespec.GlobalHit{{Bin: 1}, {Bin: 2}, {Bin: 3}}
	return s
}

func TestConsume(t *testing.T) {
	m := New()
	s := testSpectrum()
	require.NoError(t, m.Consume(s, beespec.DefaultView()))
	require.NoError(t, m.Consume(s, beespec.DefaultView()))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Spectra))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Hits))
	st := s.Stats()
	assert.InDelta(t, st.Mean, testutil.ToFloat64(m.MeanPower), 1e-12)
	assert.InDelta(t, st.Max, testutil.ToFloat64(m.MaxPower), 1e-12)
	assert.Equal(t, 1, testutil.CollectAndCount(m.BinsFilled))
	require.NoError(t, m.Close())
}

func TestFileClosed(t *testing.T) {
	m := New()
	m.FileClosed(beespec.FileSummary{Packets: 4096, Bytes: 100000})
	m.FileClosed(beespec.FileSummary{Packets: 10, Bytes: 500})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Files))
	assert.Equal(t, 4106.0, testutil.ToFloat64(m.FilePackets))
	assert.Equal(t, 100500.0, testutil.ToFloat64(m.FileBytes))
}

func TestHandler(t *testing.T) {
	m := New()
	require.NoError(t, m.Consume(testSpectrum(), beespec.DefaultView()))
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "beespec_spectra_total 1")
	assert.Contains(t, body, "beespec_hits_total 3")
	assert.Contains(t, body, `beespec_spectrum_bins_filled_bucket{le="512"} 1`)
}

func TestServer(t *testing.T) {
	m := New()
	m.FileClosed(beespec.FileSummary{Packets: 7})
	srv := NewServer("127.0.0.1:0", "")
	require.NoError(t, srv.Start(m))
	defer srv.Stop(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "beespec_file_packets_total 7")

	require.NoError(t, srv.Stop(context.Background()))
	assert.NoError(t, NewServer("127.0.0.1:0", "/m").Stop(context.Background()))
}

func TestServerBadAddress(t *testing.T) {
	assert.Error(t, NewServer("256.0.0.1:99999", "").Start(New()))
}
