package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"greenthread/internal/auth"
	"greenthread/internal/sensors/application"
	sensors "greenthread/internal/sensors/domain"
)

type memoryRepo struct {
	mu      sync.Mutex
	batches [][]sensors.Reading
	err     error
}

func (m *memoryRepo) InsertReadings(_ context.Context, readings []sensors.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, readings)
	return nil
}

func (m *memoryRepo) rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

const secret = "hook-secret"

func newWebhook(t *testing.T, repo *memoryRepo) http.Handler {
	t.Helper()
	logger := log.New(&bytes.Buffer{}, "", 0)
	service, err := application.NewIngestService(sensors.DefaultRegistry(), repo, logger)
	require.NoError(t, err)
	handler, err := NewIngestHandler(service, logger)
	require.NoError(t, err)
	return auth.NewWebhookSecretMiddleware(secret).Wrap(handler)
}

func post(handler http.Handler, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/data/webhooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(auth.WebhookSecretHeader, key)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestWebhook_SingleObject(t *testing.T) {
	repo := &memoryRepo{}
	resp := post(newWebhook(t, repo), `{"type":"ph","value":7.2,"unit":"pH","recorded_at":"2024-01-01T00:00:00Z"}`, secret)
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"success":true,"message":"Inserted 1 sensor reading(s)","count":1}`, resp.Body.String())
	require.Equal(t, 1, repo.rows())
	require.Equal(t, sensors.SensorPH, repo.batches[0][0].Type)
	require.NotEmpty(t, repo.batches[0][0].ID)
}

func TestWebhook_WrongSecretStoresNothing(t *testing.T) {
	repo := &memoryRepo{}
	resp := post(newWebhook(t, repo), `{"type":"ph","value":7.2,"unit":"pH","recorded_at":"2024-01-01T00:00:00Z"}`, "nope")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.JSONEq(t, `{"error":"Unauthorized"}`, resp.Body.String())
	require.Zero(t, repo.rows())
}

func TestWebhook_OneInvalidElementRejectsBatch(t *testing.T) {
	repo := &memoryRepo{}
	body := `[
		{"type":"ph","value":7.2,"unit":"pH","recorded_at":"2024-01-01T00:00:00Z"},
		{"type":"tds","value":"high","unit":"ppm","recorded_at":"2024-01-01T00:00:00Z"},
		{"type":"turbidity","value":3,"unit":"NTU","recorded_at":"2024-01-01T00:00:00Z"}
	]`
	resp := post(newWebhook(t, repo), body, secret)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Zero(t, repo.rows())

	var payload struct {
		Error   string               `json:"error"`
		Details []sensors.FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	require.Equal(t, "Invalid payload", payload.Error)
	require.Len(t, payload.Details, 1)
	require.Equal(t, 1, *payload.Details[0].Index)
	require.Equal(t, "value", payload.Details[0].Field)
}

func TestWebhook_ArrayInsertedTogether(t *testing.T) {
	repo := &memoryRepo{}
	body := `[
		{"type":"ph","value":7.2,"unit":"pH","recorded_at":"2024-01-01T00:00:00Z"},
		{"type":"flowRate","value":40,"unit":"","recorded_at":"2024-01-01T02:00:00+02:00"}
	]`
	resp := post(newWebhook(t, repo), body, secret)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, repo.batches, 1)
	require.Len(t, repo.batches[0], 2)
	require.True(t, repo.batches[0][0].RecordedAt.Equal(repo.batches[0][1].RecordedAt))
}

func TestWebhook_StorageFailure(t *testing.T) {
	repo := &memoryRepo{err: errors.New("db down")}
	resp := post(newWebhook(t, repo), `{"type":"ph","value":7.2,"unit":"pH","recorded_at":"2024-01-01T00:00:00Z"}`, secret)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.JSONEq(t, `{"error":"Failed to insert sensor data"}`, resp.Body.String())
}

func TestDecodeReadings_FieldErrors(t *testing.T) {
	cases := map[string]string{
		`{"value":1,"unit":"x","recorded_at":"2024-01-01T00:00:00Z"}`:            "type",
		`{"type":"  ","value":1,"unit":"x","recorded_at":"2024-01-01T00:00:00Z"}`: "type",
		`{"type":"ph","unit":"x","recorded_at":"2024-01-01T00:00:00Z"}`:            "value",
		`{"type":"ph","value":1e999,"unit":"x","recorded_at":"2024-01-01T00:00:00Z"}`: "value",
		`{"type":"ph","value":1,"recorded_at":"2024-01-01T00:00:00Z"}`:              "unit",
		`{"type":"ph","value":1,"unit":"x","recorded_at":"yesterday"}`:             "recorded_at",
		`[]`: "body",
		`"ph"`: "body",
	}
	for body, field := range cases {
		readings, fields := DecodeReadings([]byte(body))
		require.Nil(t, readings, body)
		require.NotEmpty(t, fields, body)
		require.Equal(t, field, fields[0].Field, body)
	}
}
