package beespec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// SpectrumTopic is the first frame of every published spectrum message.
const SpectrumTopic = "SPECTRUM"

// SpectrumHeader is the JSON frame describing a published spectrum.
type SpectrumHeader struct {
	Sequence   int     `json:"sequence"`
	Timestamp  float64 `json:"timestamp"` // unix seconds
	BinsFilled int     `json:"bins_filled"`
	Hits       int     `json:"hits"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stddev"`
	MaxBin     int     `json:"max_bin"`
	Axis       string  `json:"axis"`
	ShowHits   bool    `json:"show_hits"`
	LogScale   bool    `json:"log_scale"`
}

// encodeSpectrum builds the message frames: topic, JSON header, then the bin axis, powers,
// hit axis and hit powers as little-endian float64 arrays. Hit frames are empty when hits
// are hidden.
func encodeSpectrum(s *Spectrum, v View) ([][]byte, error) {
	st := s.Stats()
	pa := s.PlotArrays(v.Axis)
	if !v.ShowHits {
		pa.HitX, pa.HitPower = nil, nil
	}
	header := SpectrumHeader{
		Sequence:   s.Sequence,
		Timestamp:  float64(s.Timestamp.UnixNano()) / float64(time.Second),
		BinsFilled: s.BinsFilled(),
		Hits:       len(pa.HitX),
		Mean:       st.Mean,
		StdDev:     st.StdDev,
		MaxBin:     st.MaxBin,
		Axis:       v.Axis.Label(),
		ShowHits:   v.ShowHits,
		LogScale:   v.LogScale,
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(SpectrumTopic), hdr,
		float64Frame(pa.BinX), float64Frame(pa.Power), float64Frame(pa.HitX), float64Frame(pa.HitPower)}, nil
}

func float64Frame(x []float64) []byte {
	b := make([]byte, 8*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

// SpectrumPublisher publishes spectra on a ZMQ PUB socket for live display clients.
// Consume never blocks the data path: if the publishing goroutine falls behind,
// spectra are dropped and counted.
type SpectrumPublisher struct {
	messages chan [][]byte
	done     chan struct{}
	dropped  int
}

// NewSpectrumPublisher binds a PUB socket on tcp://*:port and starts publishing.
func NewSpectrumPublisher(port int) (*SpectrumPublisher, error) {
	endpoint := fmt.Sprintf("tcp://*:%d", port)
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("binding %s: %w", endpoint, err)
	}
	sp := &SpectrumPublisher{
		messages: make(chan [][]byte, 16),
		done:     make(chan struct{}),
	}
	go sp.run(sock)
	return sp, nil
}

func (sp *SpectrumPublisher) run(sock *zmq.Socket) {
	defer close(sp.done)
	defer sock.Close()
	for frames := range sp.messages {
		for i, f := range frames {
			flag := zmq.SNDMORE
			if i == len(frames)-1 {
				flag = 0
			}
			if _, err := sock.SendBytes(f, flag); err != nil {
				ProblemLogger.Printf("Could not publish spectrum: %v", err)
				break
			}
		}
	}
}

// Consume queues the spectrum for publication.
func (sp *SpectrumPublisher) Consume(s *Spectrum, v View) error {
	frames, err := encodeSpectrum(s, v)
	if err != nil {
		return err
	}
	select {
	case sp.messages <- frames:
	default:
		sp.dropped++
	}
	return nil
}

// Dropped counts spectra not published because the queue was full.
func (sp *SpectrumPublisher) Dropped() int {
	return sp.dropped
}

// Close publishes what is queued, then closes the socket.
func (sp *SpectrumPublisher) Close() error {
	close(sp.messages)
	<-sp.done
	return nil
}
