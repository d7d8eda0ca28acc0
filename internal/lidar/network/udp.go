// Package network provides the packet sources and taps that sit between a
// sensor and the decode pipeline: live UDP, PCAP replay, PCAP recording and
// UDP forwarding.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

// DefaultUDPPort is the Hesai point-cloud destination port.
const DefaultUDPPort = 2368

// UDPConfig configures a live UDP source.
type UDPConfig struct {
	Address     string // host:port to bind
	RcvBuf      int    // socket receive buffer; 0 keeps the OS default
	ReadTimeout time.Duration
	Factory     UDPSocketFactory
	Clock       timeutil.Clock
}

// UDPSource reads point-cloud datagrams from a bound socket.
type UDPSource struct {
	sock        UDPSocket
	clock       timeutil.Clock
	readTimeout time.Duration
	errLog      *monitoring.Throttle

	packets atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
}

// NewUDPSource binds cfg.Address.
func NewUDPSource(cfg UDPConfig) (*UDPSource, error) {
	if cfg.Factory == nil {
		cfg.Factory = RealUDPSocketFactory{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	sock, err := cfg.Factory.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("UDP source listening on %s (receive buffer %d bytes)", sock.LocalAddr(), cfg.RcvBuf)
	return &UDPSource{
		sock:        sock,
		clock:       cfg.Clock,
		readTimeout: cfg.ReadTimeout,
		errLog:      monitoring.NewThrottle(10 * time.Second),
	}, nil
}

// ReadPacket blocks until a datagram arrives or ctx is done. Read timeouts
// only serve to poll ctx. A closed socket reads as io.EOF.
func (s *UDPSource) ReadPacket(ctx context.Context, buf []byte) (int, time.Time, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, time.Time{}, err
		}
		s.sock.SetReadDeadline(s.clock.Now().Add(s.readTimeout))
		n, _, err := s.sock.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return 0, time.Time{}, io.EOF
			}
			s.errors.Add(1)
			s.errLog.Logf("UDP read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(n))
		return n, s.clock.Now(), nil
	}
}

// LocalAddr is the bound address.
func (s *UDPSource) LocalAddr() net.Addr { return s.sock.LocalAddr() }

// Counts returns packets and bytes received and read errors seen.
func (s *UDPSource) Counts() (packets, bytes, readErrors uint64) {
	return s.packets.Load(), s.bytes.Load(), s.errors.Load()
}

// Close releases the socket.
func (s *UDPSource) Close() error { return s.sock.Close() }
