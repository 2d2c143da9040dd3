package beespec

import (
	"fmt"
	"log"
	"time"

	"github.com/ucb-seti/beespec/packets"
)

// AnomalyKind classifies advisory problems seen in the packet stream.
type AnomalyKind int

// Kinds of anomaly.
const (
	MissingBin AnomalyKind = iota
	OutOfRangeBin
	ErrorFlagReported
)

func (k AnomalyKind) String() string {
	switch k {
	case MissingBin:
		return "MissingBin"
	case OutOfRangeBin:
		return "OutOfRangeBin"
	case ErrorFlagReported:
		return "ErrorFlagReported"
	}
	return fmt.Sprintf("AnomalyKind(%d)", int(k))
}

// Anomaly is one advisory report. Bin is a raw wire bin number.
type Anomaly struct {
	Kind     AnomalyKind
	Bin      int64
	Flag     string    // error code field name, for ErrorFlagReported
	Previous time.Time // time of the previous in-range packet, for MissingBin
	Time     time.Time
}

func timeString(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func (a Anomaly) String() string {
	switch a.Kind {
	case MissingBin:
		return fmt.Sprintf("missing PFB bin %d between time %s and %s", a.Bin,
			timeString(a.Previous), timeString(a.Time))
	case OutOfRangeBin:
		return fmt.Sprintf("PFB bin %d out of range (0 to %d) at time %s", a.Bin,
			packets.NumPFBBins-1, timeString(a.Time))
	case ErrorFlagReported:
		return fmt.Sprintf("%s reported in PFB bin %d", a.Flag, a.Bin)
	}
	return a.Kind.String()
}

// AnomalyCounters are running totals. They only grow until Reset.
type AnomalyCounters struct {
	MissingBins int
	ErrorCodes  int
	Jumps       int
	OutOfRange  int
	Packets     int
}

// Add accumulates other into c.
func (c *AnomalyCounters) Add(other AnomalyCounters) {
	c.MissingBins += other.MissingBins
	c.ErrorCodes += other.ErrorCodes
	c.Jumps += other.Jumps
	c.OutOfRange += other.OutOfRange
	c.Packets += other.Packets
}

// Good is true when no bin jumps were seen.
func (c AnomalyCounters) Good() bool {
	return c.Jumps == 0
}

// AnomalyReporter inspects the decoded stream and counts anomalies. It never fails.
type AnomalyReporter struct {
	counters AnomalyCounters
	havePrev bool
	prevBin  int64
	prevTime time.Time
	// jump counting compares consecutive raw bins, in range or not
	haveLast bool
	lastBin  int64
}

// NewAnomalyReporter returns a reporter with zeroed counters.
func NewAnomalyReporter() *AnomalyReporter {
	return new(AnomalyReporter)
}

// rawBin reads the wire bin as the signed 32-bit value the BEE2 sent.
func rawBin(p *packets.Packet) int64 {
	return int64(int32(p.Bin))
}

// Observe checks one packet and returns what it found, in the order
// out-of-range, missing bins, error code fields.
func (ar *AnomalyReporter) Observe(p *packets.Packet, t time.Time) []Anomaly {
	var found []Anomaly
	bin := rawBin(p)
	ar.counters.Packets++

	if ar.haveLast {
		if delta := bin - ar.lastBin; delta != 1 && delta != 1-packets.NumPFBBins {
			ar.counters.Jumps++
		}
	}
	ar.haveLast = true
	ar.lastBin = bin

	if bin < 0 || bin >= packets.NumPFBBins {
		ar.counters.OutOfRange++
		found = append(found, Anomaly{Kind: OutOfRangeBin, Bin: bin, Time: t})
		ar.havePrev = false
	} else {
		if ar.havePrev {
			for _, m := range MissingBetween(ar.prevBin, bin) {
				ar.counters.MissingBins++
				found = append(found, Anomaly{Kind: MissingBin, Bin: m, Previous: ar.prevTime, Time: t})
			}
		}
		ar.havePrev = true
		ar.prevBin = bin
		ar.prevTime = t
	}

	for _, f := range p.FlagsSet() {
		ar.counters.ErrorCodes++
		found = append(found, Anomaly{Kind: ErrorFlagReported, Bin: bin, Flag: f.Name, Time: t})
	}
	return found
}

// MissingBetween lists the bins strictly between prev and cur, walking upward and
// wrapping at 4096. A repeated bin therefore reports every other bin as missing.
func MissingBetween(prev, cur int64) []int64 {
	n := ((cur-prev-1)%packets.NumPFBBins + packets.NumPFBBins) % packets.NumPFBBins
	missing := make([]int64, 0, n)
	for i := int64(1); i <= n; i++ {
		missing = append(missing, (prev+i)%packets.NumPFBBins)
	}
	return missing
}

// Counters returns the running totals.
func (ar *AnomalyReporter) Counters() AnomalyCounters {
	return ar.counters
}

// Good is true when no bin jumps were seen since the last Reset.
func (ar *AnomalyReporter) Good() bool {
	return ar.counters.Good()
}

// Reset zeroes the counters, as at the start of a new output file. Gap tracking continues
// across the reset so the first packet of the next file is checked against the last one.
func (ar *AnomalyReporter) Reset() {
	ar.counters = AnomalyCounters{}
}

// Summary formats the counters the way they are printed at rotations and at exit.
func (ar *AnomalyReporter) Summary() string {
	return ar.counters.String()
}

func (c AnomalyCounters) String() string {
	verdict := "good"
	if !c.Good() {
		verdict = "bad"
	}
	return fmt.Sprintf("%d packets, missing %d PFB bins, %d error codes reported, %d out of range, %d jumps (%s)",
		c.Packets, c.MissingBins, c.ErrorCodes, c.OutOfRange, c.Jumps, verdict)
}

// LogAnomalies writes one line per anomaly, except that a run of missing bins from the same
// gap is written as a single line.
func LogAnomalies(l *log.Logger, found []Anomaly) {
	for i := 0; i < len(found); i++ {
		a := found[i]
		if a.Kind != MissingBin {
			l.Print(a.String())
			continue
		}
		j := i
		for j+1 < len(found) && found[j+1].Kind == MissingBin {
			j++
		}
		if j == i {
			l.Print(a.String())
		} else {
			l.Printf("missing %d PFB bins (%d to %d) between time %s and %s", j-i+1, a.Bin, found[j].Bin,
				timeString(a.Previous), timeString(a.Time))
		}
		i = j
	}
}
