package packets

import (
	"encoding/binary"
	"math/bits"
)

// Normalizer reads and writes the 4-byte integer words of packets and records.
// Words are big-endian unless Swap is set, in which case each word's bytes are reversed.
//
// The recorder and analyzer historically disagreed on whether to swap, so the wire and
// file orders are configured separately.
type Normalizer struct {
	Swap bool
}

// NetworkOrder reads words as sent by the BEE2.
var NetworkOrder = Normalizer{Swap: false}

// SwappedOrder reads words stored little-endian, as in recordings made on x86 hosts.
var SwappedOrder = Normalizer{Swap: true}

// Normalize converts the first 4 bytes of word to a uint32.
func (n Normalizer) Normalize(word []byte) uint32 {
	v := binary.BigEndian.Uint32(word)
	if n.Swap {
		return bits.ReverseBytes32(v)
	}
	return v
}

// Put stores v into the first 4 bytes of word, the inverse of Normalize.
func (n Normalizer) Put(word []byte, v uint32) {
	if n.Swap {
		v = bits.ReverseBytes32(v)
	}
	binary.BigEndian.PutUint32(word, v)
}

// String names the order.
func (n Normalizer) String() string {
	if n.Swap {
		return "swapped"
	}
	return "network"
}

