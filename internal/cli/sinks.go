package cli

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/npysink"
	"github.com/ucb-seti/beespec/plotsink"
)

// SinkOptions selects the spectrum consumers of a session. It is filled by viper.
type SinkOptions struct {
	Plot        string `mapstructure:"plot"` // PNG path; empty disables plotting
	PlotEvery   int    `mapstructure:"plot_every"`
	PlotKeep    bool   `mapstructure:"plot_keep"`
	PublishPort int    `mapstructure:"publish_port"` // ZMQ PUB port; 0 disables publishing
	Npy         string `mapstructure:"npy"`          // output prefix for .npy export
	NpyMax      int    `mapstructure:"npy_max"`
	Vector      int    `mapstructure:"vector"` // capture the Nth spectrum, then stop
	VectorDir   string `mapstructure:"vector_dir"`
}

// AddSinkFlags declares the flags read into SinkOptions.
func AddSinkFlags(fs *pflag.FlagSet) {
	fs.StringP("plot", "g", "", "write each spectrum as a PNG plot to this file")
	fs.Int("plot-every", 1, "plot only one spectrum out of this many")
	fs.Bool("plot-keep", false, "also keep a numbered PNG of every plotted spectrum")
	fs.Int("publish-port", 0, "publish spectra on this ZMQ PUB port (0 disables)")
	fs.String("npy", "", "save spectra and hits as <npy>_spectra.npy and <npy>_hits.npy")
	fs.Int("npy-max", 0, "stop after saving this many spectra to .npy (0 means no limit)")
	fs.IntP("vector", "N", 0, "write the Nth spectrum to the receiveVector* files, then stop")
	fs.String("vector-dir", ".", "directory for the receiveVector* files")
}

// Build makes the sinks selected by o.
func (o SinkOptions) Build() ([]beespec.SpectrumSink, error) {
	var sinks []beespec.SpectrumSink
	if o.Plot != "" {
		ps, err := plotsink.New(plotsink.Config{Path: o.Plot, Every: o.PlotEvery, Keep: o.PlotKeep})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ps)
		fmt.Printf("Plotting spectra to %s\n", o.Plot)
	}
	if o.PublishPort > 0 {
		pub, err := beespec.NewSpectrumPublisher(o.PublishPort)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
		fmt.Printf("Publishing spectra on tcp port %d\n", o.PublishPort)
	}
	if o.Npy != "" {
		sinks = append(sinks, npysink.New(o.Npy, o.NpyMax))
	}
	if o.Vector > 0 {
		sinks = append(sinks, beespec.NewVectorSink(o.VectorDir, o.Vector))
	}
	return sinks, nil
}
