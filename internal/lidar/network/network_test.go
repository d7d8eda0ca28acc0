package network

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hesai-decode/internal/testutil"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

func TestUDPSourceReadsPackets(t *testing.T) {
	testutil.Quiet(t)
	sock := NewMockUDPSocket([]byte{1, 2, 3}, []byte{4, 5})
	factory := &MockUDPSocketFactory{Socket: sock}
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	src, err := NewUDPSource(UDPConfig{Address: "127.0.0.1:2368", RcvBuf: 4 << 20, Factory: factory, Clock: clock})
	require.NoError(t, err)
	require.Len(t, factory.Addrs, 1)
	assert.Equal(t, 2368, factory.Addrs[0].Port)
	assert.Equal(t, 4<<20, sock.ReadBufferSize())

	buf := make([]byte, 16)
	n, at, err := src.ReadPacket(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
	assert.Equal(t, time.Unix(1000, 0), at)

	sock.FailNextRead(errors.New("connection refused"))
	n, _, err = src.ReadPacket(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])

	packets, bytes, readErrors := src.Counts()
	assert.Equal(t, uint64(2), packets)
	assert.Equal(t, uint64(5), bytes)
	assert.Equal(t, uint64(1), readErrors)
}

func TestUDPSourceHonoursContext(t *testing.T) {
	testutil.Quiet(t)
	sock := NewMockUDPSocket()
	src, err := NewUDPSource(UDPConfig{Address: ":2368", Factory: &MockUDPSocketFactory{Socket: sock}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = src.ReadPacket(ctx, make([]byte, 16))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, src.Close())
	assert.True(t, sock.Closed())
	_, _, err = src.ReadPacket(context.Background(), make([]byte, 16))
	assert.ErrorIs(t, err, io.EOF)
}

func TestUDPSourceListenError(t *testing.T) {
	_, err := NewUDPSource(UDPConfig{Address: ":2368", Factory: &MockUDPSocketFactory{Err: errors.New("in use")}})
	assert.ErrorContains(t, err, "in use")

	_, err = NewUDPSource(UDPConfig{Address: "not an address"})
	assert.Error(t, err)
}

func TestPCAPRoundTrip(t *testing.T) {
	testutil.Quiet(t)
	path := filepath.Join(t.TempDir(), "capture.pcap")
	rec, err := NewPCAPRecorder(path, DefaultUDPPort)
	require.NoError(t, err)

	start := time.Unix(1_700_000_000, 0).UTC()
	payloads := [][]byte{{0xFF, 0xEE, 1}, {0xFF, 0xEE, 2}, {0xFF, 0xEE, 3}}
	for i, p := range payloads {
		require.NoError(t, rec.Record(p, start.Add(time.Duration(i)*time.Millisecond)))
	}
	assert.Equal(t, 3, rec.Written())
	require.NoError(t, rec.Close())

	src, err := OpenPCAP(PCAPConfig{Path: path, Port: DefaultUDPPort})
	require.NoError(t, err)
	defer src.Close()

	buf := make([]byte, 1500)
	for i, want := range payloads {
		n, at, err := src.ReadPacket(context.Background(), buf)
		require.NoError(t, err)
		assert.Equal(t, want, buf[:n])
		assert.True(t, at.Equal(start.Add(time.Duration(i)*time.Millisecond)), "capture time %v", at)
	}
	_, _, err = src.ReadPacket(context.Background(), buf)
	assert.ErrorIs(t, err, io.EOF)
	packets, skipped := src.Counts()
	assert.Equal(t, uint64(3), packets)
	assert.Zero(t, skipped)
}

func TestPCAPPortFilter(t *testing.T) {
	testutil.Quiet(t)
	path := filepath.Join(t.TempDir(), "other.pcap")
	rec, err := NewPCAPRecorder(path, 9999)
	require.NoError(t, err)
	require.NoError(t, rec.Record([]byte{1}, time.Unix(1, 0)))
	require.NoError(t, rec.Close())

	src, err := OpenPCAP(PCAPConfig{Path: path, Port: DefaultUDPPort})
	require.NoError(t, err)
	defer src.Close()

	_, _, err = src.ReadPacket(context.Background(), make([]byte, 1500))
	assert.ErrorIs(t, err, io.EOF)
	_, skipped := src.Counts()
	assert.Equal(t, uint64(1), skipped)
}

func TestPCAPRealtimePacing(t *testing.T) {
	testutil.Quiet(t)
	path := filepath.Join(t.TempDir(), "paced.pcap")
	rec, err := NewPCAPRecorder(path, DefaultUDPPort)
	require.NoError(t, err)
	require.NoError(t, rec.Record([]byte{1}, time.Unix(10, 0)))
	require.NoError(t, rec.Record([]byte{2}, time.Unix(10, int64(40*time.Millisecond))))
	require.NoError(t, rec.Close())

	src, err := OpenPCAP(PCAPConfig{Path: path, Realtime: true, Speed: 2})
	require.NoError(t, err)
	defer src.Close()

	buf := make([]byte, 1500)
	_, _, err = src.ReadPacket(context.Background(), buf)
	require.NoError(t, err)
	began := time.Now()
	_, _, err = src.ReadPacket(context.Background(), buf)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(began), 15*time.Millisecond, "40ms gap at 2x should wait ~20ms")
}

func TestOpenPCAPErrors(t *testing.T) {
	_, err := OpenPCAP(PCAPConfig{Path: filepath.Join(t.TempDir(), "missing.pcap")})
	assert.Error(t, err)
}

func TestPacketForwarder(t *testing.T) {
	testutil.Quiet(t)
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()
	port := listener.LocalAddr().(*net.UDPAddr).Port

	fwd, err := NewPacketForwarder("127.0.0.1", port, 4, time.Second)
	require.NoError(t, err)
	defer fwd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)

	payload := []byte{0xFF, 0xEE, 0x01}
	fwd.Tap(payload, time.Now())
	payload[2] = 0x02 // the forwarder must have taken a copy

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xEE, 0x01}, buf[:n])

	require.Eventually(t, func() bool {
		forwarded, _, _ := fwd.Counts()
		return forwarded == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPacketForwarderDropsWhenFull(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	fwd := newPacketForwarder(client, "pipe", 2, time.Second)
	defer fwd.Close()

	// Not started, so the queue only fills.
	for i := 0; i < 5; i++ {
		fwd.ForwardAsync([]byte{byte(i)})
	}
	_, dropped, _ := fwd.Counts()
	assert.Equal(t, uint64(3), dropped)
}
