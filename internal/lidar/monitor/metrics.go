package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
)

type metrics struct {
	registry *prometheus.Registry

	framePoints  prometheus.Histogram
	framePackets prometheus.Histogram
	overflowed   prometheus.Counter
	partial      prometheus.Counter
	spinRPM      prometheus.Gauge
}

func newMetrics(reg *prometheus.Registry, stats StatsProvider) *metrics {
	factory := promauto.With(reg)
	m := &metrics{
		registry: reg,
		framePoints: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pandar_frame_points",
			Help:    "Points per completed frame",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 10),
		}),
		framePackets: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pandar_frame_packets",
			Help:    "Packets per completed frame",
			Buckets: prometheus.LinearBuckets(50, 50, 12),
		}),
		overflowed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pandar_frames_overflowed_total",
			Help: "Frames handed to consumers with dropped packets",
		}),
		partial: factory.NewCounter(prometheus.CounterOpts{
			Name: "pandar_frames_partial_total",
			Help: "Frames flushed before a full revolution",
		}),
		spinRPM: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pandar_spin_rpm",
			Help: "Motor speed reported by the latest frame",
		}),
	}
	if stats == nil {
		return m
	}

	counter := func(name, help string, value func() uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(value())
		})
	}
	counter("pandar_packets_received_total", "Payloads read from the source",
		func() uint64 { return stats.Stats().Received })
	counter("pandar_packets_malformed_total", "Packets rejected for framing or length",
		func() uint64 { return stats.Stats().Decoder.Malformed })
	counter("pandar_packets_calibration_missing_total", "Packets decoded without a calibration table",
		func() uint64 { return stats.Stats().Decoder.CalibrationMissing })
	counter("pandar_points_written_total", "Points projected into frames",
		func() uint64 { return stats.Stats().Decoder.PointsWritten })
	counter("pandar_points_dropped_total", "Points dropped by full frames",
		func() uint64 { return stats.Stats().Decoder.DroppedPoints })
	counter("pandar_frames_completed_total", "Frames closed by a frame split",
		func() uint64 { return stats.Stats().Decoder.FramesCompleted })
	counter("pandar_frames_dropped_total", "Frames discarded because consumers fell behind",
		func() uint64 { return stats.Stats().FramesDropped })
	counter("pandar_packets_lost_total", "Packets missing from the sequence",
		func() uint64 { return stats.Stats().Decoder.Loss.LostPackets })
	counter("pandar_sequence_gaps_total", "Sequence discontinuities",
		func() uint64 { return stats.Stats().Decoder.Loss.SequenceGaps })
	counter("pandar_packets_duplicate_total", "Repeated sequence numbers",
		func() uint64 { return stats.Stats().Decoder.Loss.Duplicates })
	counter("pandar_packets_out_of_order_total", "Sequence numbers that went backwards",
		func() uint64 { return stats.Stats().Decoder.Loss.OutOfOrder })
	counter("pandar_time_loss_events_total", "Timestamp gaps above the loss threshold",
		func() uint64 { return stats.Stats().Decoder.Loss.TimeLossEvents })
	counter("pandar_time_lost_microseconds_total", "Microseconds covered by timestamp gaps",
		func() uint64 { return stats.Stats().Decoder.Loss.TimeLostMicros })
	counter("pandar_clock_stalls_total", "Packets repeating the previous timestamp",
		func() uint64 { return stats.Stats().Decoder.Loss.ClockStalls })
	counter("pandar_clock_resets_total", "Timestamps that went backwards",
		func() uint64 { return stats.Stats().Decoder.Loss.ClockResets })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pandar_packet_queue_length",
		Help: "Packets waiting for decode",
	}, func() float64 { return float64(stats.Stats().QueueLen) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pandar_packet_loss_ratio",
		Help: "Lost over expected sequenced packets",
	}, func() float64 { return stats.Stats().Decoder.Loss.LossRatio() })
	return m
}

func (m *metrics) observeFrame(f *l2frames.Frame) {
	m.framePoints.Observe(float64(f.PointCount))
	m.framePackets.Observe(float64(f.PacketCount))
	m.spinRPM.Set(float64(f.SpinSpeed))
	if f.Overflow {
		m.overflowed.Inc()
	}
	if !f.ScanComplete {
		m.partial.Inc()
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
