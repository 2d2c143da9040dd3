// Package metrics exports the progress of a recording session to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/packets"
)

// Metrics holds the collectors of one session, in a registry of its own.
// It is a beespec.SpectrumSink, and FileClosed can be registered with Recorder.OnFileClosed.
type Metrics struct {
	registry *prometheus.Registry

	Spectra    prometheus.Counter
	Hits       prometheus.Counter
	BinsFilled prometheus.Histogram
	MeanPower  prometheus.Gauge
	MaxPower   prometheus.Gauge

	Files       prometheus.Counter
	FilePackets prometheus.Counter
	FileBytes   prometheus.Counter
}

// New creates the collectors and registers them.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Spectra: f.NewCounter(prometheus.CounterOpts{
			Name: "beespec_spectra_total",
			Help: "Total number of spectra delivered",
		}),
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "beespec_hits_total",
			Help: "Total number of hits in delivered spectra",
		}),
		BinsFilled: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "beespec_spectrum_bins_filled",
			Help:    "PFB bins that received a summary value, per spectrum",
			Buckets: prometheus.LinearBuckets(512, 512, packets.NumPFBBins/512),
		}),
		MeanPower: f.NewGauge(prometheus.GaugeOpts{
			Name: "beespec_spectrum_mean_power",
			Help: "Mean scaled summary power of the latest spectrum",
		}),
		MaxPower: f.NewGauge(prometheus.GaugeOpts{
			Name: "beespec_spectrum_max_power",
			Help: "Largest scaled summary power of the latest spectrum",
		}),
		Files: f.NewCounter(prometheus.CounterOpts{
			Name: "beespec_files_closed_total",
			Help: "Total number of output files closed",
		}),
		FilePackets: f.NewCounter(prometheus.CounterOpts{
			Name: "beespec_file_packets_total",
			Help: "Total number of packets in closed output files",
		}),
		FileBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "beespec_file_bytes_total",
			Help: "Total size of closed output files",
		}),
	}
}

// Consume records one delivered spectrum.
func (m *Metrics) Consume(s *beespec.Spectrum, v beespec.View) error {
	st := s.Stats()
	m.Spectra.Inc()
	m.Hits.Add(float64(st.NHits))
	m.BinsFilled.Observe(float64(s.BinsFilled()))
	m.MeanPower.Set(st.Mean)
	m.MaxPower.Set(st.Max)
	return nil
}

// FileClosed records one closed output file.
func (m *Metrics) FileClosed(fs beespec.FileSummary) {
	m.Files.Inc()
	m.FilePackets.Add(float64(fs.Packets))
	m.FileBytes.Add(float64(fs.Bytes))
}

// Close is a no-op; the collectors stay readable until the process exits.
func (m *Metrics) Close() error {
	return nil
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
