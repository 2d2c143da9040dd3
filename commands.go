package beespec

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Command is a request to change the state of a running session. Commands arrive on a
// channel and are applied between packets, never from inside a signal handler.
type Command int

// Commands understood by Recorder and Analyzer.
const (
	CmdTogglePause Command = iota
	CmdToggleHits
	CmdToggleLogScale
	CmdStop
)

func (c Command) String() string {
	switch c {
	case CmdTogglePause:
		return "toggle pause"
	case CmdToggleHits:
		return "toggle hits"
	case CmdToggleLogScale:
		return "toggle log scale"
	case CmdStop:
		return "stop"
	}
	return "unknown command"
}

// View is the display state handed to sinks with every spectrum.
type View struct {
	Paused   bool
	ShowHits bool
	LogScale bool
	Axis     Axis
}

// DefaultView shows hits on a frequency axis around the default center.
func DefaultView() View {
	return View{ShowHits: true, Axis: Axis{Mode: AxisFrequency, CenterMHz: DefaultCenterMHz}}
}

// Apply changes the view according to c. It returns true if c asks the session to stop.
func (v *View) Apply(c Command) bool {
	switch c {
	case CmdTogglePause:
		v.Paused = !v.Paused
	case CmdToggleHits:
		v.ShowHits = !v.ShowHits
	case CmdToggleLogScale:
		v.LogScale = !v.LogScale
	case CmdStop:
		return true
	}
	UpdateLogger.Printf("Command %s: paused=%t hits=%t log=%t", c, v.Paused, v.ShowHits, v.LogScale)
	return false
}

// SignalCommands turns process signals into commands. SIGINT, SIGTERM, SIGHUP and SIGQUIT
// cancel the run through cancel; SIGUSR1 toggles pause and SIGUSR2 toggles hits.
// The returned channel is closed when ctx is done.
func SignalCommands(ctx context.Context, cancel context.CancelFunc) <-chan Command {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT,
		syscall.SIGUSR1, syscall.SIGUSR2)
	commands := make(chan Command, 8)
	go func() {
		defer close(commands)
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				var c Command
				switch sig {
				case syscall.SIGUSR1:
					c = CmdTogglePause
				case syscall.SIGUSR2:
					c = CmdToggleHits
				default:
					UpdateLogger.Printf("Received signal %v, stopping", sig)
					cancel()
					continue
				}
				select {
				case commands <- c:
				default:
					ProblemLogger.Printf("Command channel full, dropping %s", c)
				}
			}
		}
	}()
	return commands
}
