// Package packets decodes and encodes the datagrams sent by the BEE2 spectrometer and
// the framed records that the recorder writes to disk.
//
// A datagram describes one PFB bin. It holds three 4-byte words (the raw PFB bin number,
// a summary value that is either the mean power or the threshold scaler, and an error
// code) followed by zero or more hits, each a (fine bin, power) pair of 4-byte words.
package packets

import (
	"errors"
	"fmt"
	"strings"
)

// Sizes and calibration constants of the BEE2 spectrometer.
const (
	NumPFBBins       = 4096  // coarse polyphase filter bank bins per spectrum
	WireBinOffset    = 2048  // wire bin v is logical bin (v+2048) mod 4096
	FineBinsPerPFB   = 32768 // fine bins inside one PFB bin
	FineBinOffset    = 16384 // re-centers the fine-bin axis around zero offset
	HeaderBytes      = 12    // bin, summary, error code
	HitBytes         = 8     // fine bin, power
	MaxHitsPerPacket = FineBinsPerPFB
	MaxPacketBytes   = HeaderBytes + HitBytes*MaxHitsPerPacket

	// PowerScale converts the 32_31 fixed-point power words to float.
	PowerScale = 2147483648.0
)

// Error code bit masks reported by the BEE2 in the third header word.
const (
	FFTOverflowMask uint32 = 0x20000000
	PFBOverflowMask uint32 = 0x10000000
	CTErrorMask     uint32 = 0x0F000000
	FIFOOverrunMask uint32 = 0x00FFC000
)

// ErrorFlag names one of the error code fields.
type ErrorFlag struct {
	Name string
	Mask uint32
}

// ErrorFlags lists the error code fields in the order they are reported.
var ErrorFlags = []ErrorFlag{
	{"FFT overflow", FFTOverflowMask},
	{"PFB overflow", PFBOverflowMask},
	{"Corner Turner error", CTErrorMask},
	{"FIFO overrun", FIFOOverrunMask},
}

// ErrMalformedPacket is wrapped by every error caused by an inconsistent packet length.
var ErrMalformedPacket = errors.New("malformed packet")

// MalformedPacketError describes why a packet or record length was rejected.
type MalformedPacketError struct {
	Length int
	Reason string
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet of %d bytes: %s", e.Length, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedPacket.
func (e *MalformedPacketError) Unwrap() error {
	return ErrMalformedPacket
}

// CheckLength verifies that n bytes can hold a header plus a whole number of hits.
func CheckLength(n int) error {
	if n < HeaderBytes {
		return &MalformedPacketError{n, fmt.Sprintf("need at least %d bytes", HeaderBytes)}
	}
	if (n-HeaderBytes)%HitBytes != 0 {
		return &MalformedPacketError{n, fmt.Sprintf("hit section of %d bytes is not a multiple of %d",
			n-HeaderBytes, HitBytes)}
	}
	if n > MaxPacketBytes {
		return &MalformedPacketError{n, fmt.Sprintf("more than %d hits", MaxHitsPerPacket)}
	}
	return nil
}

// Hit is one threshold-exceeding fine bin.
type Hit struct {
	FineBin uint32
	Power   uint32
}

// Packet is one decoded datagram. Bin is the raw wire value; see LogicalBin.
type Packet struct {
	Bin        uint32
	Summary    uint32
	ErrorFlags uint32
	Hits       []Hit
}

// Decode parses one datagram body. Every word passes through order.
func Decode(buf []byte, order Normalizer) (*Packet, error) {
	if err := CheckLength(len(buf)); err != nil {
		return nil, err
	}
	p := &Packet{
		Bin:        order.Normalize(buf[0:4]),
		Summary:    order.Normalize(buf[4:8]),
		ErrorFlags: order.Normalize(buf[8:12]),
	}
	nhits := (len(buf) - HeaderBytes) / HitBytes
	p.Hits = make([]Hit, nhits)
	for i := range p.Hits {
		off := HeaderBytes + i*HitBytes
		p.Hits[i].FineBin = order.Normalize(buf[off : off+4])
		p.Hits[i].Power = order.Normalize(buf[off+4 : off+8])
	}
	return p, nil
}

// Encode is the inverse of Decode.
func (p *Packet) Encode(order Normalizer) []byte {
	buf := make([]byte, p.DataLength())
	order.Put(buf[0:4], p.Bin)
	order.Put(buf[4:8], p.Summary)
	order.Put(buf[8:12], p.ErrorFlags)
	for i, h := range p.Hits {
		off := HeaderBytes + i*HitBytes
		order.Put(buf[off:off+4], h.FineBin)
		order.Put(buf[off+4:off+8], h.Power)
	}
	return buf
}

// HeaderOnly returns a copy of p without its hits.
func (p *Packet) HeaderOnly() *Packet {
	return &Packet{Bin: p.Bin, Summary: p.Summary, ErrorFlags: p.ErrorFlags}
}

// DataLength is the size in bytes of the encoded packet.
func (p *Packet) DataLength() int {
	return HeaderBytes + HitBytes*len(p.Hits)
}

// InRange reports whether the raw bin number is a valid PFB bin.
func (p *Packet) InRange() bool {
	return p.Bin < NumPFBBins
}

// LogicalBin is the display-centered PFB bin of this packet.
func (p *Packet) LogicalBin() int {
	return LogicalBin(p.Bin)
}

// FlagsSet returns the error code fields set in this packet.
func (p *Packet) FlagsSet() []ErrorFlag {
	var set []ErrorFlag
	for _, f := range ErrorFlags {
		if p.ErrorFlags&f.Mask != 0 {
			set = append(set, f)
		}
	}
	return set
}

// String summarizes the packet on one line.
func (p *Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PFB bin %4d (logical %4d) summary 0x%08x", p.Bin, p.LogicalBin(), p.Summary)
	if p.ErrorFlags != 0 {
		fmt.Fprintf(&b, " errors 0x%08x", p.ErrorFlags)
	}
	fmt.Fprintf(&b, " with %d hits", len(p.Hits))
	return b.String()
}

// LogicalBin maps a raw wire bin number to its logical bin.
func LogicalBin(wire uint32) int {
	return int((uint64(wire) + WireBinOffset) % NumPFBBins)
}

// WireBin maps a logical bin back to the raw wire bin number.
func WireBin(logical int) uint32 {
	return uint32((logical + WireBinOffset) % NumPFBBins)
}

// GlobalBin is the index of a hit among all 4096*32768 fine bins of a spectrum.
func GlobalBin(fineBin uint32, logical int) int64 {
	return int64((fineBin+FineBinOffset)%FineBinsPerPFB) + FineBinsPerPFB*int64(logical)
}

// ScaledPower converts a power word to the instrument's float scale.
func ScaledPower(power uint32) float64 {
	return float64(power) / PowerScale
}
