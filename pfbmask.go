package beespec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	"github.com/ucb-seti/beespec/packets"
)

// DefaultPFBMaskPath is where the recorder looks for the PFB mask.
const DefaultPFBMaskPath = "/etc/PFBmask.txt"

// PFBMask selects, per logical bin, whether data is forwarded (true) or suppressed.
type PFBMask [packets.NumPFBBins]bool

// AllBins returns a mask forwarding every bin.
func AllBins() *PFBMask {
	m := new(PFBMask)
	for i := range m {
		m[i] = true
	}
	return m
}

// Allows reports whether the logical bin is forwarded. A nil mask forwards everything.
func (m *PFBMask) Allows(logical int) bool {
	return m == nil || m[logical]
}

// Count is the number of forwarded bins.
func (m *PFBMask) Count() int {
	if m == nil {
		return packets.NumPFBBins
	}
	n := 0
	for _, ok := range m {
		if ok {
			n++
		}
	}
	return n
}

// ReadPFBMask parses 4096 whitespace-separated integers, one per logical bin.
// Nonzero values forward the bin. Anything after the 4096th value is ignored.
func ReadPFBMask(r io.Reader) (*PFBMask, error) {
	m := new(PFBMask)
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	i := 0
	for ; i < packets.NumPFBBins && sc.Scan(); i++ {
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("PFB mask value %d: %w", i, err)
		}
		m[i] = v != 0
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if i < packets.NumPFBBins {
		return nil, fmt.Errorf("PFB mask has %d values, need %d", i, packets.NumPFBBins)
	}
	return m, nil
}

// LoadPFBMask reads the mask file at path. A missing file is not an error: it yields a
// mask forwarding every bin and a warning on ProblemLogger.
func LoadPFBMask(path string) (*PFBMask, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		ProblemLogger.Printf("PFB mask %s not found, forwarding all %d bins", path, packets.NumPFBBins)
		return AllBins(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadPFBMask(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
