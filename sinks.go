package beespec

import (
	"errors"
	"fmt"
)

// SpectrumSink consumes completed spectra: plots, publishers, exporters.
type SpectrumSink interface {
	Consume(s *Spectrum, v View) error
	Close() error
}

// ErrSinkDone is returned by a sink that has everything it wants. The run then stops cleanly.
var ErrSinkDone = errors.New("sink finished")

// spectrumFanout owns the view state and sinks shared by Recorder and Analyzer.
type spectrumFanout struct {
	sinks     []SpectrumSink
	view      View
	commands  <-chan Command
	delivered int
	skipped   int
	finished  bool // a sink returned ErrSinkDone
}

// pollCommands applies every queued command without blocking.
// It returns true if one of them asked to stop.
func (f *spectrumFanout) pollCommands() bool {
	for {
		select {
		case c, ok := <-f.commands:
			if !ok {
				f.commands = nil
				return false
			}
			if f.view.Apply(c) {
				return true
			}
		default:
			return false
		}
	}
}

// deliver hands s to every sink unless the view is paused.
func (f *spectrumFanout) deliver(s *Spectrum) error {
	if s == nil {
		return nil
	}
	if f.view.Paused {
		f.skipped++
		return nil
	}
	f.delivered++
	var done bool
	for _, sink := range f.sinks {
		err := sink.Consume(s, f.view)
		if errors.Is(err, ErrSinkDone) {
			done = true
			continue
		}
		if err != nil {
			return err
		}
	}
	if done {
		f.finished = true
		return ErrSinkDone
	}
	return nil
}

func (f *spectrumFanout) closeSinks() error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing sink: %w", err)
		}
	}
	f.sinks = nil
	return firstErr
}
