package beespec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	sysctl "github.com/lorenzosaino/go-sysctl"
	"github.com/ucb-seti/beespec/packets"
)

// RawPacket is one received datagram body and its arrival time.
type RawPacket struct {
	Data []byte
	Time time.Time
}

// PacketSource yields raw packets until it returns an error. io.EOF means a clean end.
type PacketSource interface {
	Next(ctx context.Context) (RawPacket, error)
	Close() error
}

// SocketError reports a UDP socket failure. It ends the run.
type SocketError struct {
	Addr string
	Err  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("UDP socket %s: %v", e.Addr, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}

// UDPSource receives BEE2 datagrams on a UDP port.
type UDPSource struct {
	addr         string
	conn         *net.UDPConn
	buf          []byte
	pollInterval time.Duration
	maxRetries   int
	failures     int
}

// Socket buffer size requested by NewUDPSource. The kernel caps it at net.core.rmem_max.
const udpReadBuffer = 8 * 1024 * 1024

// NewUDPSource binds host:port, in the form "192.168.0.2:2010".
func NewUDPSource(host string) (*UDPSource, error) {
	raddr, err := net.ResolveUDPAddr("udp", host)
	if err != nil {
		return nil, &SocketError{Addr: host, Err: err}
	}
	conn, err := net.ListenUDP("udp", raddr)
	if err != nil {
		return nil, &SocketError{Addr: host, Err: err}
	}
	if err := conn.SetReadBuffer(udpReadBuffer); err != nil {
		ProblemLogger.Printf("Could not set UDP read buffer on %s: %v", host, err)
	}
	checkReceiveBufferLimit(udpReadBuffer)
	return &UDPSource{
		addr:         conn.LocalAddr().String(),
		conn:         conn,
		buf:          make([]byte, packets.MaxPacketBytes+1),
		pollInterval: 250 * time.Millisecond,
		maxRetries:   3,
	}, nil
}

// checkReceiveBufferLimit warns when the kernel will not grant the socket buffer we ask for.
// Overflowing that buffer is the only way datagrams are lost on the host.
func checkReceiveBufferLimit(want int) {
	val, err := sysctl.Get("net.core.rmem_max")
	if err != nil {
		return
	}
	rmemMax, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return
	}
	if rmemMax < want {
		ProblemLogger.Printf("net.core.rmem_max is %d, below the %d bytes requested; expect dropped packets at high rates",
			rmemMax, want)
	}
}

// Addr is the bound local address.
func (u *UDPSource) Addr() string {
	return u.addr
}

// Next blocks until a datagram arrives or ctx is done. Read timeouts only serve to poll ctx.
// Other receive errors are retried, and become fatal after several in a row.
func (u *UDPSource) Next(ctx context.Context) (RawPacket, error) {
	for {
		if err := ctx.Err(); err != nil {
			return RawPacket{}, err
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(u.pollInterval)); err != nil {
			return RawPacket{}, &SocketError{Addr: u.addr, Err: err}
		}
		n, _, err := u.conn.ReadFromUDP(u.buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return RawPacket{}, io.EOF
			}
			u.failures++
			ProblemLogger.Printf("UDP receive on %s failed (%d in a row): %v", u.addr, u.failures, err)
			if u.failures >= u.maxRetries {
				return RawPacket{}, &SocketError{Addr: u.addr, Err: err}
			}
			continue
		}
		u.failures = 0
		data := make([]byte, n)
		copy(data, u.buf[:n])
		return RawPacket{Data: data, Time: time.Now()}, nil
	}
}

// Close releases the socket.
func (u *UDPSource) Close() error {
	return u.conn.Close()
}
