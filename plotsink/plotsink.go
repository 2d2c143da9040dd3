// Package plotsink draws spectra as PNG images. The summary power of each PFB bin is drawn
// as steps and the hits as points, the way the legacy gnuplot window showed them.
package plotsink

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/ucb-seti/beespec"
	"github.com/ucb-seti/beespec/packets"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// logFloor replaces non-positive powers on a log scale: the smallest nonzero power word.
const logFloor = 1.0 / packets.PowerScale

// Config controls where and how often plots are written.
type Config struct {
	Path   string // PNG file, rewritten for every plotted spectrum
	Every  int    // plot one spectrum out of Every; 0 or 1 plots all
	Width  vg.Length
	Height vg.Length
	Keep   bool // also keep a numbered copy <Path without .png>_<sequence>.png
}

// PlotSink is a beespec.SpectrumSink that renders each spectrum to a PNG file.
type PlotSink struct {
	cfg     Config
	seen    int
	written int
}

// New returns a sink writing to cfg.Path.
func New(cfg Config) (*PlotSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("plot sink needs an output path")
	}
	if cfg.Every < 1 {
		cfg.Every = 1
	}
	if cfg.Width == 0 {
		cfg.Width = 10 * vg.Inch
	}
	if cfg.Height == 0 {
		cfg.Height = 4 * vg.Inch
	}
	return &PlotSink{cfg: cfg}, nil
}

// Title describes the spectrum and the view state.
func Title(s *beespec.Spectrum, v beespec.View) string {
	parts := []string{fmt.Sprintf("Spectrum %d  %s", s.Sequence, s.Timestamp.UTC().Format("2006-01-02 15:04:05.000"))}
	if !v.ShowHits {
		parts = append(parts, "HITS OFF")
	}
	if v.LogScale {
		parts = append(parts, "log")
	}
	return strings.Join(parts, "  ")
}

func xys(x, y []float64, logScale bool) plotter.XYs {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i].X = x[i]
		pts[i].Y = y[i]
		if logScale && pts[i].Y <= 0 {
			pts[i].Y = logFloor
		}
	}
	return pts
}

// Build makes the plot of one spectrum.
func Build(s *beespec.Spectrum, v beespec.View) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = Title(s, v)
	p.X.Label.Text = v.Axis.Label()
	p.Y.Label.Text = "Power"
	p.X.Min, p.X.Max = v.Axis.Range()
	if v.LogScale {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{}
	}

	pa := s.PlotArrays(v.Axis)
	if len(pa.BinX) > 0 {
		line, err := plotter.NewLine(xys(pa.BinX, pa.Power, v.LogScale))
		if err != nil {
			return nil, err
		}
		line.StepStyle = plotter.PostStep
		line.Color = color.RGBA{B: 200, A: 255}
		p.Add(line)
	}
	if v.ShowHits && len(pa.HitX) > 0 {
		pts, err := plotter.NewScatter(xys(pa.HitX, pa.HitPower, v.LogScale))
		if err != nil {
			return nil, err
		}
		pts.GlyphStyle.Color = color.RGBA{R: 220, A: 255}
		pts.GlyphStyle.Radius = vg.Points(1.5)
		pts.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(pts)
	}
	if len(pa.BinX) == 0 && (!v.ShowHits || len(pa.HitX) == 0) {
		p.Y.Min, p.Y.Max = 0, 1
		if v.LogScale {
			p.Y.Min = logFloor
		}
	}
	return p, nil
}

// Consume plots s if it is one of the spectra selected by Every.
func (ps *PlotSink) Consume(s *beespec.Spectrum, v beespec.View) error {
	ps.seen++
	if (ps.seen-1)%ps.cfg.Every != 0 {
		return nil
	}
	p, err := Build(s, v)
	if err != nil {
		return err
	}
	if err := ps.save(p, ps.cfg.Path); err != nil {
		return err
	}
	if ps.cfg.Keep {
		numbered := fmt.Sprintf("%s_%d.png", strings.TrimSuffix(ps.cfg.Path, ".png"), s.Sequence)
		if err := ps.save(p, numbered); err != nil {
			return err
		}
	}
	ps.written++
	return nil
}

// save writes a temporary file and renames it, so a viewer never sees half an image.
func (ps *PlotSink) save(p *plot.Plot, path string) error {
	wt, err := p.WriterTo(ps.cfg.Width, ps.cfg.Height, "png")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".plot-*.png")
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Written counts the plots written.
func (ps *PlotSink) Written() int {
	return ps.written
}

// Close logs how many plots were written; every plot is complete when Consume returns.
func (ps *PlotSink) Close() error {
	beespec.UpdateLogger.Printf("Wrote %d plots to %s", ps.Written(), ps.cfg.Path)
	return nil
}
