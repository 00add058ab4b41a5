package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"greenthread/internal/explain"
)

type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type wireRequest struct {
	SystemInstruction *wireContent  `json:"systemInstruction"`
	Contents          []wireContent `json:"contents"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), "key-1", WithBaseURL(server.URL), WithModel("gemini-test"))
	require.NoError(t, err)
	return client
}

func collect(t *testing.T, stream explain.TokenStream) []string {
	t.Helper()
	var tokens []string
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return tokens
		}
		require.NoError(t, err)
		tokens = append(tokens, token)
	}
}

func TestStreamText_RelaysEvents(t *testing.T) {
	var got wireRequest
	var path, alt, key string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		alt = r.URL.Query().Get("alt")
		key = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"pH \"},{\"text\":\"is \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"fine.\"}]}}]}\n\n")
	})

	stream, err := client.StreamText(context.Background(), explain.Request{
		System: "analyst",
		Messages: []explain.Message{
			{Role: explain.RoleSystem, Text: "context"},
			{Role: explain.RoleUser, Text: "why?"},
			{Role: explain.RoleAssistant, Text: "because"},
		},
	})
	require.NoError(t, err)
	defer stream.Close()

	require.Equal(t, []string{"pH ", "is ", "fine."}, collect(t, stream))

	require.True(t, strings.HasPrefix(path, "/"+DefaultAPIVersion+"/"), path)
	require.True(t, strings.HasSuffix(path, "gemini-test:streamGenerateContent"), path)
	require.Equal(t, "sse", alt)
	require.Equal(t, "key-1", key)

	require.NotNil(t, got.SystemInstruction)
	require.Equal(t, []wirePart{{Text: "analyst"}, {Text: "context"}}, got.SystemInstruction.Parts)
	require.Len(t, got.Contents, 2)
	require.Equal(t, "user", got.Contents[0].Role)
	require.Equal(t, "model", got.Contents[1].Role)
}

func TestStreamText_QuotaResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := client.StreamText(context.Background(), explain.Request{Messages: []explain.Message{{Role: explain.RoleUser, Text: "hi"}}})
	require.Error(t, err)
	var backendErr *explain.BackendError
	require.True(t, errors.As(err, &backendErr))
	require.Equal(t, http.StatusTooManyRequests, backendErr.Status)
	require.Equal(t, "RESOURCE_EXHAUSTED", backendErr.Code)
	require.True(t, explain.IsQuota(err))
}

func TestStreamText_ServerErrorIsNotQuota(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`)
	})

	_, err := client.StreamText(context.Background(), explain.Request{Messages: []explain.Message{{Role: explain.RoleUser, Text: "hi"}}})
	var backendErr *explain.BackendError
	require.True(t, errors.As(err, &backendErr))
	require.Equal(t, "UNAVAILABLE", backendErr.Code)
	require.False(t, explain.IsQuota(err))
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "")
	require.Error(t, err)
}
