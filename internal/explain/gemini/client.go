package gemini

import (
	"context"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/genai"

	"greenthread/internal/explain"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/"
	DefaultAPIVersion = "v1beta"
	DefaultModel      = "gemini-2.0-flash"
	DefaultTimeout    = 2 * time.Minute
)

// Client streams completions through the Gemini API SDK.
type Client struct {
	models *genai.Models
	model  string
}

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option configures a Client.
type Option func(*config)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/") + "/"
		}
	}
}

// WithModel selects the model name.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout bounds a whole request including the streamed body.
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// NewClient constructs a Gemini client.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	cfg := config{baseURL: DefaultBaseURL, model: DefaultModel, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.baseURL,
			APIVersion: DefaultAPIVersion,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "gemini: new client")
	}
	return &Client{models: client.Models, model: cfg.model}, nil
}

// StreamText starts a streamGenerateContent call. System-role messages are
// folded into the system instruction in order. The first response is read
// before returning so rejected requests surface as an error here.
func (c *Client) StreamText(ctx context.Context, req explain.Request) (explain.TokenStream, error) {
	contents, genConfig := buildRequest(req)
	next, stop := iter.Pull2(c.models.GenerateContentStream(ctx, c.model, contents, genConfig))

	stream := &responseStream{next: next, stop: stop}
	resp, err, ok := next()
	if !ok {
		stop()
		return explain.NewSliceStream(nil), nil
	}
	if err != nil {
		stop()
		return nil, translateError(err)
	}
	stream.pending = textParts(resp)
	return stream, nil
}

func buildRequest(req explain.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []*genai.Part
	if req.System != "" {
		system = append(system, &genai.Part{Text: req.System})
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case explain.RoleSystem:
			system = append(system, &genai.Part{Text: msg.Text})
		case explain.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Text}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Text}}})
		}
	}
	genConfig := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		genConfig.SystemInstruction = &genai.Content{Parts: system}
	}
	return contents, genConfig
}

// translateError maps SDK API errors onto BackendError so quota detection
// sees the HTTP code and the RPC status.
func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &explain.BackendError{Status: apiErr.Code, Code: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &explain.BackendError{Status: apiErrPtr.Code, Code: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return errors.Wrap(err, "gemini: stream")
}

func textParts(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			out = append(out, part.Text)
		}
	}
	return out
}

// responseStream adapts the SDK's range-over-func stream to TokenStream.
type responseStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []string
}

func (s *responseStream) Recv() (string, error) {
	for {
		if len(s.pending) > 0 {
			token := s.pending[0]
			s.pending = s.pending[1:]
			return token, nil
		}
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", translateError(err)
		}
		s.pending = textParts(resp)
	}
}

func (s *responseStream) Close() error {
	s.stop()
	return nil
}
