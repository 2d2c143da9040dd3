package beespec

import (
	"context"
	"io"
	"math/rand/v2"
	"time"

	"github.com/ucb-seti/beespec/packets"
)

// GeneratorConfig controls the synthetic packet stream.
type GeneratorConfig struct {
	Seed       uint64
	RandomHits bool    // draw hit counts and powers from the old random tables instead of 16 fixed hits
	LossRate   float64 // fraction of packets Send silently skips, to exercise gap detection
}

// Generator produces a plausible BEE2 packet stream: one packet per PFB bin in wire order,
// a mean power that random-walks between 200 and 999, and hits above it.
type Generator struct {
	cfg     GeneratorConfig
	rng     *rand.Rand
	bin     uint32
	mean    int
	sent    int
	dropped int
}

// Power words are scaled from the walk's range toward the 32_31 fixed-point scale.
const generatorPowerScale = 2147483 / 2000

// FixedHitsPerPacket is the number of hits in every packet unless RandomHits is set.
const FixedHitsPerPacket = 16

// NewGenerator starts the stream at wire bin 0.
func NewGenerator(cfg GeneratorConfig) *Generator {
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)),
		bin:  packets.NumPFBBins - 1,
		mean: 1000,
	}
}

// Next returns the packet for the next wire bin.
func (g *Generator) Next() *packets.Packet {
	g.bin = (g.bin + 1) % packets.NumPFBBins
	g.mean += g.rng.IntN(15) - 7
	if g.mean < 200 {
		g.mean = 220
	}
	if g.mean > 999 {
		g.mean = 979
	}
	p := &packets.Packet{
		Bin:     g.bin,
		Summary: uint32(g.mean * generatorPowerScale),
	}
	if !g.cfg.RandomHits {
		p.Hits = make([]packets.Hit, FixedHitsPerPacket)
		for i := range p.Hits {
			k := FixedHitsPerPacket - 1 - i
			p.Hits[i] = packets.Hit{
				FineBin: uint32(2048*k + 1024),
				Power:   uint32((g.mean + 1) * generatorPowerScale),
			}
		}
		return p
	}
	n := g.randomHitCount()
	p.Hits = make([]packets.Hit, n)
	for i := range p.Hits {
		p.Hits[i] = packets.Hit{
			FineBin: uint32(g.rng.IntN(packets.FineBinsPerPFB)),
			Power:   uint32(g.randomPeak() * generatorPowerScale),
		}
	}
	return p
}

func (g *Generator) randomHitCount() int {
	switch r := g.rng.IntN(2000); {
	case r < 1600:
		return 0
	case r < 1800:
		return 1
	case r < 1970:
		return 2
	default:
		return g.rng.IntN(23) + 5
	}
}

func (g *Generator) randomPeak() int {
	switch r := g.rng.IntN(100); {
	case r < 40:
		return g.rng.IntN(200) + g.mean
	case r < 60:
		return g.rng.IntN(350) + g.mean
	case r < 90:
		return g.rng.IntN(500) + g.mean
	default:
		return g.rng.IntN(1000) + g.mean
	}
}

// Send generates count packets (0 means until ctx is done) and writes those not lost to w,
// one datagram per Write, in network order. It waits interval between packets. It returns the number written.
func (g *Generator) Send(ctx context.Context, w io.Writer, count int, interval time.Duration) (int, error) {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	written, generated := 0, 0
	for ; count == 0 || generated < count; generated++ {
		if err := ctx.Err(); err != nil {
			return written, nil
		}
		p := g.Next()
		if g.cfg.LossRate > 0 && g.rng.Float64() < g.cfg.LossRate {
			g.dropped++
			continue
		}
		if _, err := w.Write(p.Encode(packets.NetworkOrder)); err != nil {
			return written, err
		}
		g.sent++
		written++
		if g.sent%10000 == 0 {
			UpdateLogger.Printf("Sent packet number %d", g.sent)
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return written, nil
			case <-ticker.C:
			}
		}
	}
	return written, nil
}

// Sent is the number of packets written by Send.
func (g *Generator) Sent() int {
	return g.sent
}

// Dropped is the number of packets Send skipped to simulate loss.
func (g *Generator) Dropped() int {
	return g.dropped
}
