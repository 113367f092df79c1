package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast-project/statecast/internal/events"
)

// metricValue returns the value of the named metric whose labels include
// every pair in labels.
func metricValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !hasLabels(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_FedFromEvents(t *testing.T) {
	active := 2
	m := NewMetrics(func() int { return active })

	bus := events.NewEventBus()
	defer bus.Stop()
	m.RegisterHandlers(bus)

	ctx := context.Background()
	emit := func(typ events.EventType, payload interface{}) {
		require.NoError(t, bus.EmitSync(ctx, events.Event{Type: typ, Payload: payload}))
	}

	emit(events.EventSessionOpened, events.SessionOpenedPayload{SessionID: 0})
	emit(events.EventSessionOpened, events.SessionOpenedPayload{SessionID: 1})
	emit(events.EventMessageRelayed, events.MessageRelayedPayload{Kind: "play", Bytes: 12, Recipients: 2, Failures: 1})
	emit(events.EventMessageRelayed, events.MessageRelayedPayload{Kind: "snapshot", Bytes: 100, Recipients: 1})
	emit(events.EventDecodeFailed, events.DecodeFailedPayload{ErrorKind: "base64"})
	now := time.Now()
	emit(events.EventSessionClosed, events.SessionClosedPayload{
		Reason:   events.CloseReasonDecodeError,
		OpenedAt: now.Add(-5 * time.Second),
		ClosedAt: now,
	})

	assert.Equal(t, 2.0, metricValue(t, m, "statecast_sessions_active", nil))
	assert.Equal(t, 2.0, metricValue(t, m, "statecast_sessions_total", nil))
	assert.Equal(t, 1.0, metricValue(t, m, "statecast_messages_relayed_total", map[string]string{"kind": "play"}))
	assert.Equal(t, 24.0, metricValue(t, m, "statecast_relay_bytes_total", map[string]string{"kind": "play"}))
	assert.Equal(t, 100.0, metricValue(t, m, "statecast_relay_bytes_total", map[string]string{"kind": "snapshot"}))
	assert.Equal(t, 2.0, metricValue(t, m, "statecast_relay_recipients", nil))
	assert.Equal(t, 1.0, metricValue(t, m, "statecast_send_failures_total", nil))
	assert.Equal(t, 1.0, metricValue(t, m, "statecast_decode_failures_total", map[string]string{"error_kind": "base64"}))
	assert.Equal(t, 1.0, metricValue(t, m, "statecast_sessions_closed_total", map[string]string{"reason": "decode_error"}))
	assert.Equal(t, 1.0, metricValue(t, m, "statecast_session_duration_seconds", nil))

	active = 0
	assert.Equal(t, 0.0, metricValue(t, m, "statecast_sessions_active", nil))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "statecast_sessions_active 3")
	assert.Contains(t, string(body), "go_goroutines")
}
