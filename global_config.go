// Package beespec records, reassembles and analyzes the packet stream of the BEE2/iBOB
// radio-SETI spectrometer.
package beespec

import (
	"log"
	"os"
	"time"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.0",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages and packet anomalies to a file
var ProblemLogger *log.Logger

// UpdateLogger will log progress messages (file rotations, run summaries) to a file
var UpdateLogger *log.Logger

func init() {
	StartTime = time.Now()

	// The main programs will override these, but at least initialize with sensible values
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
