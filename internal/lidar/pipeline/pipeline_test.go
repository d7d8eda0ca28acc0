package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hesai-decode/internal/lidar/decoder"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/synth"
	"github.com/banshee-data/hesai-decode/internal/testutil"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

func newEngine(t *testing.T) *decoder.Engine {
	t.Helper()
	e, err := decoder.NewEngine(decoder.Config{SensorID: "test"}, testutil.DefaultCalibration(t))
	require.NoError(t, err)
	return e
}

type frameRecord struct {
	index    uint64
	packets  int
	points   int
	complete bool
}

type countingTap struct{ n atomic.Int64 }

func (c *countingTap) Tap([]byte, time.Time) { c.n.Add(1) }

func TestRunDeliversEveryRevolution(t *testing.T) {
	testutil.CaptureLogs(t)
	p := New(newEngine(t), Config{QueueDepth: 16})
	tap := &countingTap{}
	p.AddTap(tap)

	var frames []frameRecord
	p.OnFrame(func(f *l2frames.Frame) {
		frames = append(frames, frameRecord{f.Index, f.PacketCount, f.PointCount, f.ScanComplete})
	})

	src := synth.New(synth.Config{Revolutions: 3, WithSequence: true})
	require.NoError(t, p.Run(context.Background(), src))

	require.Len(t, frames, 3)
	total := 0
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.index)
		assert.Equal(t, f.packets*400, f.points, "frame %d", i)
		total += f.packets
	}
	assert.True(t, frames[0].complete)
	assert.True(t, frames[1].complete)
	assert.False(t, frames[2].complete, "flushed frame is partial")
	assert.Equal(t, 3*src.PacketsPerRevolution(), total)

	s := p.Stats()
	assert.Equal(t, uint64(total), s.Received)
	assert.Equal(t, uint64(3), s.FramesDelivered)
	assert.Zero(t, s.Decoder.Loss.LostPackets)
	assert.Equal(t, int64(total), tap.n.Load())

	assert.ErrorIs(t, p.Run(context.Background(), src), ErrAlreadyStarted)
}

func TestRunReportsSequenceLoss(t *testing.T) {
	testutil.CaptureLogs(t)
	p := New(newEngine(t), Config{})
	src := synth.New(synth.Config{Revolutions: 1, WithSequence: true, DropEvery: 20})
	require.NoError(t, p.Run(context.Background(), src))

	loss := p.Stats().Decoder.Loss
	assert.Equal(t, uint64(8), loss.LostPackets)
	assert.Equal(t, uint64(8), loss.SequenceGaps)
}

func TestRunStopsOnCancel(t *testing.T) {
	testutil.CaptureLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(newEngine(t), Config{})
	var seen atomic.Int64
	p.OnFrame(func(*l2frames.Frame) {
		if seen.Add(1) == 2 {
			cancel()
		}
	})
	err := p.Run(ctx, synth.New(synth.Config{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, seen.Load(), int64(2))
}

type failingSource struct {
	inner *synth.Source
	after int
	reads int
}

func (f *failingSource) ReadPacket(ctx context.Context, buf []byte) (int, time.Time, error) {
	f.reads++
	if f.reads > f.after {
		return 0, time.Time{}, errors.New("device unplugged")
	}
	return f.inner.ReadPacket(ctx, buf)
}

func (f *failingSource) Close() error { return nil }

func TestRunReturnsSourceErrorAfterFlush(t *testing.T) {
	testutil.CaptureLogs(t)
	p := New(newEngine(t), Config{})
	var packets int
	p.OnFrame(func(f *l2frames.Frame) { packets += f.PacketCount })

	err := p.Run(context.Background(), &failingSource{inner: synth.New(synth.Config{}), after: 50})
	assert.EqualError(t, err, "device unplugged")
	assert.Equal(t, 50, packets)
}

func TestDropSlowFrames(t *testing.T) {
	testutil.CaptureLogs(t)
	p := New(newEngine(t), Config{FrameQueue: 1, DropSlowFrames: true})
	release := make(chan struct{})
	var once sync.Once
	p.OnFrame(func(*l2frames.Frame) {
		once.Do(func() { <-release })
	})

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), synth.New(synth.Config{Revolutions: 5}))
	}()
	require.Eventually(t, func() bool { return p.Stats().FramesDropped > 0 }, 5*time.Second, time.Millisecond)
	close(release)
	require.NoError(t, <-done)

	s := p.Stats()
	assert.Equal(t, s.Decoder.FramesCompleted+1, s.FramesDelivered+s.FramesDropped)
}

type idleSource struct{}

func (idleSource) ReadPacket(ctx context.Context, _ []byte) (int, time.Time, error) {
	<-ctx.Done()
	return 0, time.Time{}, ctx.Err()
}

func (idleSource) Close() error { return nil }

func TestPeriodicStatsLog(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := New(newEngine(t), Config{StatsInterval: time.Minute, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, idleSource{}) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return logs.Contains("received=0 frames=0")
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
