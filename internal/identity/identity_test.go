package identity

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
	"greenthread/internal/storage/sqlite"
)

const (
	testAnonKey     = "anon-key"
	testAccessToken = "access-1"
	testPassword    = "Correct#123"
	testOTP         = "123456"
	testUserID      = "8f7c1a52-3f0c-4a51-9d0e-6c2b1f7e4a10"
)

type fakeProvider struct {
	mu          sync.Mutex
	logouts     int
	newPassword string
	missingKey  bool
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("apikey") != testAnonKey {
		f.missingKey = true
	}
	var raw map[string]any
	_ = json.NewDecoder(r.Body).Decode(&raw)
	body := make(map[string]string, len(raw))
	for k, v := range raw {
		if text, ok := v.(string); ok {
			body[k] = text
		}
	}
	session := map[string]any{
		"access_token":  testAccessToken,
		"refresh_token": "refresh-1",
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          map[string]string{"id": testUserID, "email": "op@example.com"},
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	switch r.URL.Path {
	case "/auth/v1/signup":
		writeJSON(w, http.StatusOK, map[string]string{"id": testUserID, "email": body["email"]})
	case "/auth/v1/verify":
		if body["token"] != testOTP {
			writeJSON(w, http.StatusForbidden, map[string]string{"msg": "Token has expired or is invalid"})
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "/auth/v1/resend", "/auth/v1/recover":
		writeJSON(w, http.StatusOK, map[string]string{})
	case "/auth/v1/token":
		if body["password"] != testPassword {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, session)
	case "/auth/v1/user":
		if bearer != testAccessToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
			return
		}
		if r.Method == http.MethodPut {
			f.newPassword = body["password"]
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": testUserID, "email": "op@example.com"})
	case "/auth/v1/logout":
		f.logouts++
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type actions struct {
	names []string
}

func (a *actions) RecordAction(_ context.Context, action, _ string, _ string) error {
	a.names = append(a.names, action)
	return nil
}

type fixture struct {
	provider *fakeProvider
	profiles *SQLiteProfiles
	actions  *actions
	mux      *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := &fakeProvider{}
	server := httptest.NewServer(provider)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, testAnonKey)
	require.NoError(t, err)
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	profiles, err := NewSQLiteProfiles(db)
	require.NoError(t, err)
	recorded := &actions{}
	logger := log.New(&bytes.Buffer{}, "", 0)
	service, err := NewService(client, profiles, logger, WithActionRecorder(recorded))
	require.NoError(t, err)
	handler, err := NewHandler(service, logger, false)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handler.Register(mux)
	return &fixture{provider: provider, profiles: profiles, actions: recorded, mux: mux}
}

func (f *fixture) do(method, path, body string, signedIn bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if signedIn {
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{
			UserID:      testUserID,
			Email:       "op@example.com",
			Role:        auth.RoleAuthenticated,
			AccessToken: testAccessToken,
		}))
	}
	resp := httptest.NewRecorder()
	f.mux.ServeHTTP(resp, req)
	return resp
}

func sessionCookie(resp *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	return nil
}

func TestRegister_RequiresVerification(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/register", `{"email":"op@example.com","password":"Str0ng!pass"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)

	var body messageBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.True(t, body.RequiresVerification)
	require.Equal(t, testUserID, body.User.ID)
	require.Nil(t, sessionCookie(resp))
	require.False(t, f.provider.missingKey)
}

func TestRegister_WeakPasswordNeverReachesProvider(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/register", `{"email":"op@example.com","password":"password"}`, false)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "uppercase")
}

func TestVerifyOTP_SetsSessionAndProfile(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/otp/verify", `{"email":"op@example.com","otp":"123456"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)
	require.Equal(t, testAccessToken, cookie.Value)
	require.True(t, cookie.HttpOnly)

	profile, err := f.profiles.Get(context.Background(), testUserID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, "op@example.com", profile.Email)

	resp = f.do(http.MethodPost, "/auth/otp/verify", `{"email":"op@example.com","otp":"000000"}`, false)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "Token has expired or is invalid")

	resp = f.do(http.MethodPost, "/auth/otp/verify", `{"email":"op@example.com","otp":"12ab56"}`, false)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "OTP must be 6 digits")
}

func TestLogin_ProviderMessagePassedThrough(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/login", `{"email":"op@example.com","password":"nope"}`, false)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.JSONEq(t, `{"error":"Invalid login credentials"}`, resp.Body.String())

	resp = f.do(http.MethodPost, "/auth/login", `{"email":"op@example.com","password":"Correct#123"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, sessionCookie(resp))
}

func TestChangePassword_VerifiesCurrentPassword(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/password/change", `{"currentPassword":"wrong","newPassword":"N3w!password"}`, true)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.JSONEq(t, `{"error":"Current password is incorrect"}`, resp.Body.String())
	require.Empty(t, f.provider.newPassword)

	resp = f.do(http.MethodPost, "/auth/password/change", `{"currentPassword":"Correct#123","newPassword":"N3w!password"}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "N3w!password", f.provider.newPassword)
	require.Equal(t, []string{"password_change"}, f.actions.names)
}

func TestResetUpdate_SignsOut(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/password-reset/update", `{"password":"N3w!password"}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, 1, f.provider.logouts)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)
	require.Empty(t, cookie.Value)
	require.Less(t, cookie.MaxAge, 0)

	resp = f.do(http.MethodPost, "/auth/password-reset/update", `{"password":"N3w!password"}`, false)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestMe_OnlyFullNameWritable(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodGet, "/auth/me", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	var profile Profile
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &profile))
	require.Equal(t, testUserID, profile.ID)

	resp = f.do(http.MethodPatch, "/auth/me", `{"email":"evil@example.com"}`, true)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(http.MethodPatch, "/auth/me", `{"full_name":"Ada Operator"}`, true)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &profile))
	require.Equal(t, "Ada Operator", profile.FullName)
	require.Equal(t, "op@example.com", profile.Email)

	resp = f.do(http.MethodGet, "/auth/me", "", false)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestValidatePassword(t *testing.T) {
	cases := map[string]bool{
		"Str0ng!pass": true,
		"Sh0rt!":      false,
		"alllower1!":  false,
		"ALLUPPER1!":  false,
		"NoDigits!!":  false,
		"NoSpecial11": false,
	}
	for password, ok := range cases {
		err := ValidatePassword(password)
		if ok {
			require.NoError(t, err, password)
		} else {
			require.Error(t, err, password)
		}
	}
}

func TestProviderError_ParsesStatusAndMessage(t *testing.T) {
	err := providerError(errors.New(`response status code 422: {"code":422,"msg":"User already registered"}`))
	var providerErr *ProviderError
	require.True(t, errors.As(err, &providerErr))
	require.Equal(t, 422, providerErr.Status)
	require.Equal(t, "User already registered", providerErr.Message)

	err = providerError(errors.New("dial tcp: connection refused"))
	require.False(t, errors.As(err, &providerErr))
}

func TestResendAndRecover_ReachProvider(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodPost, "/auth/otp/resend", `{"email":"op@example.com"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(http.MethodPost, "/auth/password-reset", `{"email":"op@example.com"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	require.False(t, f.provider.missingKey)
}
