package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the counters of the location pipeline and the realtime channel.
// A nil *Metrics records nothing.
type Metrics struct {
	samplesReceived  metric.Int64Counter
	samplesForwarded metric.Int64Counter
	samplesDiscarded metric.Int64Counter
	sendFailures     metric.Int64Counter
	realtimeMessages metric.Int64Counter
	realtimeDropped  metric.Int64Counter
	tokenRefreshes   metric.Int64Counter
}

// NewMetrics registers the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.samplesReceived, "zonewatch.location.samples_received", "Location samples delivered by the provider"},
		{&m.samplesForwarded, "zonewatch.location.samples_forwarded", "Location samples sent to the backend"},
		{&m.samplesDiscarded, "zonewatch.location.samples_discarded", "Location samples dropped by the distance filter"},
		{&m.sendFailures, "zonewatch.location.send_failures", "Failed location update calls"},
		{&m.realtimeMessages, "zonewatch.realtime.messages", "Realtime messages delivered to handlers"},
		{&m.realtimeDropped, "zonewatch.realtime.dropped", "Realtime messages dropped as undecodable or unrouted"},
		{&m.tokenRefreshes, "zonewatch.auth.token_refreshes", "Token refresh attempts"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// SampleReceived counts a provider sample. source is "foreground" or "background".
func (m *Metrics) SampleReceived(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.add(ctx, m.samplesReceived, attribute.String("source", source))
}

// SampleForwarded counts a sample handed to the backend.
func (m *Metrics) SampleForwarded(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.add(ctx, m.samplesForwarded, attribute.String("source", source))
}

// SampleDiscarded counts a sample dropped by the distance filter.
func (m *Metrics) SampleDiscarded(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.samplesDiscarded)
}

// SendFailed counts a failed location update.
func (m *Metrics) SendFailed(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.add(ctx, m.sendFailures, attribute.String("source", source))
}

// RealtimeMessage counts a message delivered to a handler.
func (m *Metrics) RealtimeMessage(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.realtimeMessages)
}

// RealtimeDropped counts a dropped realtime message.
func (m *Metrics) RealtimeDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.realtimeDropped, attribute.String("reason", reason))
}

// TokenRefresh counts a refresh attempt by outcome.
func (m *Metrics) TokenRefresh(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.add(ctx, m.tokenRefreshes, attribute.Bool("success", ok))
}
