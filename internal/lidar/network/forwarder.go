package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

// PacketForwarder relays raw payloads to another UDP address without
// blocking the receive path.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	logInterval time.Duration
	address     string

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPacketForwarder dials addr:port. queue bounds the packets waiting to be
// sent; further packets are dropped.
func NewPacketForwarder(addr string, port, queue int, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := net.JoinHostPort(addr, fmt.Sprint(port))
	conn, err := net.Dial("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	return newPacketForwarder(conn, forwardAddress, queue, logInterval), nil
}

func newPacketForwarder(conn net.Conn, address string, queue int, logInterval time.Duration) *PacketForwarder {
	if queue <= 0 {
		queue = 1000
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, queue),
		logInterval: logInterval,
		address:     address,
	}
}

// Start runs the send loop until ctx is done. Write errors are summarised
// once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		failures := 0
		var lastError error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet := <-f.channel:
				if _, err := f.conn.Write(packet); err != nil {
					failures++
					lastError = err
					f.failed.Add(1)
					continue
				}
				f.forwarded.Add(1)
			case <-ticker.C:
				if failures > 0 {
					monitoring.Logf("Failed to forward %d packets to %s (latest: %v)", failures, f.address, lastError)
					failures = 0
					lastError = nil
				}
			}
		}
	}()
	monitoring.Logf("Forwarding packets to %s", f.address)
}

// ForwardAsync queues a copy of packet, dropping it if the queue is full.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)
	select {
	case f.channel <- packetCopy:
	default:
		f.dropped.Add(1)
	}
}

// Tap forwards the payload; the receive time is not needed.
func (f *PacketForwarder) Tap(payload []byte, _ time.Time) {
	f.ForwardAsync(payload)
}

// Counts returns packets sent, dropped for a full queue and failed to send.
func (f *PacketForwarder) Counts() (forwarded, dropped, failed uint64) {
	return f.forwarded.Load(), f.dropped.Load(), f.failed.Load()
}

// Close closes the connection. Start's goroutine exits with its context.
func (f *PacketForwarder) Close() error {
	return f.conn.Close()
}
