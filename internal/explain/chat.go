package explain

import (
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// Roles accepted in a transcript. The backend maps them to its own names.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrQuotaExceeded marks a rejected request because a rate limit was hit,
// either locally or at the backend.
var ErrQuotaExceeded = errors.New("explain: quota exceeded")

// ChatPart is one fragment of a chat message. Only text parts carry content.
type ChatPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is a transcript entry as sent by the dashboard. Content wins
// over Parts when both are set.
type ChatMessage struct {
	Role    string     `json:"role"`
	Content string     `json:"content,omitempty"`
	Parts   []ChatPart `json:"parts,omitempty"`
}

// Text flattens the message to a single string.
func (m ChatMessage) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var b strings.Builder
	for _, part := range m.Parts {
		if part.Type == "text" && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// Message is a flattened backend message.
type Message struct {
	Role string
	Text string
}

// Request is what the service hands to a Backend.
type Request struct {
	System   string
	Messages []Message
}

// TokenStream yields text fragments until io.EOF.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Backend streams a completion for a request.
type Backend interface {
	StreamText(ctx context.Context, req Request) (TokenStream, error)
}

// BackendError is a failure reported by the generative backend.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// IsQuota reports whether err is a rate-limit or quota failure.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		if backendErr.Status == 429 || backendErr.Code == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

// ResultKind selects how a Result is rendered.
type ResultKind int

const (
	ResultStream ResultKind = iota
	ResultQuotaExceeded
	ResultError
)

// Result is the outcome of an explanation request. Stream is set only for
// ResultStream; Err only for the failure kinds.
type Result struct {
	Kind   ResultKind
	Stream TokenStream
	Err    error
}

// sliceStream replays fixed tokens. Used for tests and canned replies.
type sliceStream struct {
	tokens []string
	err    error
}

// NewSliceStream returns a TokenStream over tokens that ends with err, or
// io.EOF when err is nil.
func NewSliceStream(err error, tokens ...string) TokenStream {
	return &sliceStream{tokens: tokens, err: err}
}

func (s *sliceStream) Recv() (string, error) {
	if len(s.tokens) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	token := s.tokens[0]
	s.tokens = s.tokens[1:]
	return token, nil
}

func (s *sliceStream) Close() error { return nil }
