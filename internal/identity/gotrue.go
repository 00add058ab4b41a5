package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	authgo "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"
)

// Client talks to a GoTrue (Supabase Auth) provider.
type Client struct {
	api     authgo.Client
	baseURL string
	anonKey string
	http    *http.Client
}

// NewClient constructs a client for the provider at authURL, e.g.
// https://project.supabase.co. The /auth/v1 prefix is appended.
func NewClient(authURL, anonKey string) (*Client, error) {
	if authURL == "" {
		return nil, errors.New("identity: empty auth url")
	}
	if anonKey == "" {
		return nil, errors.New("identity: empty anon key")
	}
	base := strings.TrimRight(authURL, "/")
	if !strings.HasSuffix(base, "/auth/v1") {
		base += "/auth/v1"
	}
	return &Client{
		api:     authgo.New("", anonKey).WithCustomAuthURL(base),
		baseURL: base,
		anonKey: anonKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// User is the provider's account record.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an issued token pair.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// SignUpResult carries the user and, when email confirmation is disabled, a session.
type SignUpResult struct {
	User    User
	Session *Session
}

// OTP types accepted by Verify.
const (
	OTPSignup   = "signup"
	OTPRecovery = "recovery"
)

// ProviderError is a non-2xx provider response.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity: provider http %d: %s", e.Status, e.Message)
}

// SignUp registers an email/password account.
func (c *Client) SignUp(_ context.Context, email, password string) (SignUpResult, error) {
	resp, err := c.api.Signup(types.SignupRequest{Email: email, Password: password})
	if err != nil {
		return SignUpResult{}, providerError(err)
	}
	user := User{ID: resp.User.ID.String(), Email: resp.User.Email}
	if resp.AccessToken == "" {
		return SignUpResult{User: user}, nil
	}
	return SignUpResult{User: user, Session: &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    int(resp.ExpiresIn),
		User:         user,
	}}, nil
}

// Verify exchanges an emailed OTP for a session.
func (c *Client) Verify(_ context.Context, otpType, email, token string) (*Session, error) {
	resp, err := c.api.VerifyForUser(types.VerifyForUserRequest{
		Type:  types.VerificationType(otpType),
		Token: token,
		Email: email,
	})
	if err != nil {
		return nil, providerError(err)
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    int(resp.ExpiresIn),
		User:         User{ID: resp.User.ID.String(), Email: resp.User.Email},
	}, nil
}

// PasswordGrant signs in with email and password.
func (c *Client) PasswordGrant(_ context.Context, email, password string) (*Session, error) {
	resp, err := c.api.Token(types.TokenRequest{GrantType: "password", Email: email, Password: password})
	if err != nil {
		return nil, providerError(err)
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    int(resp.ExpiresIn),
		User:         User{ID: resp.User.ID.String(), Email: resp.User.Email},
	}, nil
}

// Recover sends a recovery OTP.
func (c *Client) Recover(_ context.Context, email string) error {
	if err := c.api.Recover(types.RecoverRequest{Email: email}); err != nil {
		return providerError(err)
	}
	return nil
}

// GetUser resolves the account behind an access token.
func (c *Client) GetUser(_ context.Context, accessToken string) (*User, error) {
	resp, err := c.api.WithToken(accessToken).GetUser()
	if err != nil {
		return nil, providerError(err)
	}
	return &User{ID: resp.ID.String(), Email: resp.Email}, nil
}

// UpdatePassword sets a new password for the token's account.
func (c *Client) UpdatePassword(_ context.Context, accessToken, password string) error {
	if _, err := c.api.WithToken(accessToken).UpdateUser(types.UpdateUserRequest{Password: &password}); err != nil {
		return providerError(err)
	}
	return nil
}

// Logout revokes the session's refresh tokens.
func (c *Client) Logout(_ context.Context, accessToken string) error {
	if err := c.api.WithToken(accessToken).Logout(); err != nil {
		return providerError(err)
	}
	return nil
}

// Resend sends the signup OTP again. The SDK has no binding for /resend.
func (c *Client) Resend(ctx context.Context, email string) error {
	payload, err := json.Marshal(map[string]string{"type": OTPSignup, "email": email})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/resend", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "identity: POST /resend")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &ProviderError{Status: resp.StatusCode, Message: providerMessage(raw, resp.StatusCode)}
	}
	return nil
}

// The SDK reports failures as "response status code <n>: <body>".
var statusPattern = regexp.MustCompile(`status code (\d{3})`)

func providerError(err error) error {
	msg := err.Error()
	m := statusPattern.FindStringSubmatch(msg)
	if m == nil {
		return errors.Wrap(err, "identity: provider request")
	}
	status, _ := strconv.Atoi(m[1])
	var raw []byte
	if i := strings.Index(msg, "{"); i >= 0 {
		raw = []byte(msg[i:])
	}
	return &ProviderError{Status: status, Message: providerMessage(raw, status)}
}

func providerMessage(raw []byte, status int) string {
	var body struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, candidate := range []string{body.Msg, body.ErrorDescription, body.Message, body.Error} {
			if candidate != "" {
				return candidate
			}
		}
	}
	return http.StatusText(status)
}
