package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IdleTimeout is the silence after which a registered client counts as idle
const IdleTimeout = 30 * time.Second

// ActivitySource reports when each registered client sent its last frame
type ActivitySource interface {
	LastActivity() []time.Time
}

// Metrics is the instrumentation of the relay hub
type Metrics struct {
	metric.Meter

	FramesFannedOut metric.Int64Counter
	FramesDropped   metric.Int64Counter

	clients metric.Int64UpDownCounter
}

// NewMetrics creates the hub instruments. The active and idle gauges are read from the registered
// clients at collection time.
func NewMetrics(meter metric.Meter, clients ActivitySource) (*Metrics, error) {
	fannedOut, err := meter.Int64Counter("relay_hub_frames_fanned_out")
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("relay_hub_frames_dropped")
	if err != nil {
		return nil, err
	}

	registered, err := meter.Int64UpDownCounter("relay_hub_clients")
	if err != nil {
		return nil, err
	}

	clientsActive, err := meter.Int64ObservableGauge("relay_hub_clients_active")
	if err != nil {
		return nil, err
	}

	clientsIdle, err := meter.Int64ObservableGauge("relay_hub_clients_idle")
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			active, idle := CountActive(time.Now(), clients.LastActivity())
			o.ObserveInt64(clientsActive, active)
			o.ObserveInt64(clientsIdle, idle)
			return nil
		},
		clientsActive, clientsIdle,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Meter:           meter,
		FramesFannedOut: fannedOut,
		FramesDropped:   dropped,
		clients:         registered,
	}, nil
}

// CountActive splits the clients into the ones heard from within IdleTimeout and the idle ones
func CountActive(now time.Time, lastActivity []time.Time) (active, idle int64) {
	for _, t := range lastActivity {
		if now.Sub(t) > IdleTimeout {
			idle++
		} else {
			active++
		}
	}
	return active, idle
}

func (m *Metrics) ClientRegistered() {
	m.clients.Add(context.Background(), 1)
}

func (m *Metrics) ClientGone() {
	m.clients.Add(context.Background(), -1)
}

// FrameFannedOut counts a frame relayed to the given number of recipients
func (m *Metrics) FrameFannedOut(msgType string, recipients int) {
	m.FramesFannedOut.Add(context.Background(), int64(recipients), metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
