package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	sensors "greenthread/internal/sensors/domain"
)

type captureChannel struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (c *captureChannel) Send(_ context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.contents = append(c.contents, content)
	return nil
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload webhookPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	require.NoError(t, channel.Send(context.Background(), "hello"))
	require.Equal(t, "hello", (<-payloadCh).Text)
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	require.ErrorContains(t, channel.Send(context.Background(), "x"), "502")
}

func TestNotifier_RendersNewestViolationPerType(t *testing.T) {
	channel := &captureChannel{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier, err := NewNotifier(sensors.DefaultRegistry(), channel, nil, log.New(&bytes.Buffer{}, "", 0),
		WithClock(func() time.Time { return now }),
		WithDashboardURL("https://gt.example.com/dashboard"),
	)
	require.NoError(t, err)

	notifier.NotifyViolations(context.Background(), []sensors.Reading{
		{Type: sensors.SensorTurbidity, Value: 61, RecordedAt: now.Add(-2 * time.Minute)},
		{Type: sensors.SensorTurbidity, Value: 72.5, RecordedAt: now.Add(-time.Minute)},
		{Type: sensors.SensorPH, Value: 4.1, RecordedAt: now},
	})

	require.Len(t, channel.contents, 2)
	turbidity := channel.contents[0]
	require.Contains(t, turbidity, "Sensor: Turbidity (turbidity)")
	require.Contains(t, turbidity, "Reading: 72.5 NTU")
	require.Contains(t, turbidity, "Limit: ≤ 50.0 NTU")
	require.Contains(t, turbidity, "Dashboard: https://gt.example.com/dashboard")
	require.Contains(t, channel.contents[1], "Reading: 4.1\n")
}

func TestNotifier_Cooldown(t *testing.T) {
	channel := &captureChannel{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier, err := NewNotifier(sensors.DefaultRegistry(), channel, nil, nil,
		WithClock(func() time.Time { return now }),
		WithCooldown(10*time.Minute),
	)
	require.NoError(t, err)

	violation := []sensors.Reading{{Type: sensors.SensorPH, Value: 9.5, RecordedAt: now}}
	notifier.NotifyViolations(context.Background(), violation)
	notifier.NotifyViolations(context.Background(), violation)
	require.Len(t, channel.contents, 1)

	now = now.Add(10 * time.Minute)
	notifier.NotifyViolations(context.Background(), violation)
	require.Len(t, channel.contents, 2)
}

func TestNotifier_FailedSendDoesNotStartCooldown(t *testing.T) {
	channel := &captureChannel{err: errors.New("down")}
	var logs bytes.Buffer
	notifier, err := NewNotifier(sensors.DefaultRegistry(), channel, nil, log.New(&logs, "", 0))
	require.NoError(t, err)

	violation := []sensors.Reading{{Type: sensors.SensorPH, Value: 9.5}}
	notifier.NotifyViolations(context.Background(), violation)
	require.Contains(t, logs.String(), "alerts: send ph: down")

	channel.err = nil
	notifier.NotifyViolations(context.Background(), violation)
	require.Len(t, channel.contents, 1)
}

func TestNotifier_ConcurrentBatchesSendOnce(t *testing.T) {
	channel := &captureChannel{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier, err := NewNotifier(sensors.DefaultRegistry(), channel, nil, log.New(io.Discard, "", 0),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	violation := []sensors.Reading{{Type: sensors.SensorTurbidity, Value: 80, RecordedAt: now}}
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			notifier.NotifyViolations(context.Background(), violation)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, channel.contents, 1)
}

func TestNotifier_FailedSendRestoresEarlierCooldown(t *testing.T) {
	channel := &captureChannel{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	notifier, err := NewNotifier(sensors.DefaultRegistry(), channel, nil, log.New(io.Discard, "", 0),
		WithClock(func() time.Time { return now }),
		WithCooldown(10*time.Minute),
	)
	require.NoError(t, err)
	violation := []sensors.Reading{{Type: sensors.SensorPH, Value: 9.5, RecordedAt: now}}
	notifier.NotifyViolations(context.Background(), violation)

	now = now.Add(11 * time.Minute)
	channel.err = errors.New("down")
	notifier.NotifyViolations(context.Background(), violation)

	channel.err = nil
	notifier.NotifyViolations(context.Background(), violation)
	require.Len(t, channel.contents, 2)

	notifier.NotifyViolations(context.Background(), violation)
	require.Len(t, channel.contents, 2)
}

func TestNewTemplate_Custom(t *testing.T) {
	tpl, err := NewTemplate("{{.Sensor}} at {{.Value}}")
	require.NoError(t, err)
	out, err := tpl.Render(TemplateData{Sensor: "pH Level", Value: "9"})
	require.NoError(t, err)
	require.Equal(t, "pH Level at 9", out)

	_, err = NewTemplate("{{.Sensor")
	require.Error(t, err)
}
