package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ClientMetrics is the instrumentation of the relay client
type ClientMetrics struct {
	metric.Meter

	stateChanges      metric.Int64Counter
	reconnects        metric.Int64Counter
	framesReceived    metric.Int64Counter
	framesDropped     metric.Int64Counter
	notificationsSent metric.Int64Counter
	dismisses         metric.Int64Counter
	overlays          metric.Int64Counter
}

func NewClientMetrics(meter metric.Meter) (*ClientMetrics, error) {
	stateChanges, err := meter.Int64Counter("relay_client_state_changes_total")
	if err != nil {
		return nil, err
	}

	reconnects, err := meter.Int64Counter("relay_client_reconnect_attempts_total")
	if err != nil {
		return nil, err
	}

	framesReceived, err := meter.Int64Counter("relay_client_frames_received_total")
	if err != nil {
		return nil, err
	}

	framesDropped, err := meter.Int64Counter("relay_client_frames_dropped_total")
	if err != nil {
		return nil, err
	}

	notificationsSent, err := meter.Int64Counter("relay_client_notifications_sent_total")
	if err != nil {
		return nil, err
	}

	dismisses, err := meter.Int64Counter("relay_client_dismisses_total")
	if err != nil {
		return nil, err
	}

	overlays, err := meter.Int64Counter("relay_client_overlays_total")
	if err != nil {
		return nil, err
	}

	return &ClientMetrics{
		Meter:             meter,
		stateChanges:      stateChanges,
		reconnects:        reconnects,
		framesReceived:    framesReceived,
		framesDropped:     framesDropped,
		notificationsSent: notificationsSent,
		dismisses:         dismisses,
		overlays:          overlays,
	}, nil
}

// NewNoopClientMetrics never fails, it is used when no meter provider is configured
func NewNoopClientMetrics() *ClientMetrics {
	m, _ := NewClientMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

func (m *ClientMetrics) StateChanged(state string) {
	m.stateChanges.Add(context.Background(), 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *ClientMetrics) ReconnectScheduled() {
	m.reconnects.Add(context.Background(), 1)
}

func (m *ClientMetrics) FrameReceived(msgType string) {
	m.framesReceived.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *ClientMetrics) FrameDropped(reason string) {
	m.framesDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *ClientMetrics) NotificationSent() {
	m.notificationsSent.Add(context.Background(), 1)
}

// Dismiss counts a dismiss by its origin: originating, received or expired
func (m *ClientMetrics) Dismiss(origin string) {
	m.dismisses.Add(context.Background(), 1, metric.WithAttributes(attribute.String("origin", origin)))
}

// Overlay counts the notifications by their fate: shown or dropped
func (m *ClientMetrics) Overlay(result string) {
	m.overlays.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}
