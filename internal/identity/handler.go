package identity

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"greenthread/internal/auth"
)

// RefreshCookie carries the refresh token for browser sessions.
const RefreshCookie = "gt-refresh-token"

const (
	refreshCookieTTL = 30 * 24 * time.Hour
	maxAuthBody      = 64 << 10
)

// Handler serves the /auth routes.
type Handler struct {
	service      *Service
	logger       *log.Logger
	secureCookie bool
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *log.Logger, secureCookie bool) (*Handler, error) {
	if service == nil {
		return nil, errors.New("identity handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger, secureCookie: secureCookie}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/register", h.post(h.register))
	mux.HandleFunc("/auth/otp/verify", h.post(h.verifyOTP))
	mux.HandleFunc("/auth/otp/resend", h.post(h.resendOTP))
	mux.HandleFunc("/auth/login", h.post(h.login))
	mux.HandleFunc("/auth/logout", h.post(h.logout))
	mux.HandleFunc("/auth/password-reset", h.post(h.requestReset))
	mux.HandleFunc("/auth/password-reset/verify", h.post(h.verifyReset))
	mux.HandleFunc("/auth/password-reset/update", h.post(h.updateReset))
	mux.HandleFunc("/auth/password/change", h.post(h.changePassword))
	mux.HandleFunc("/auth/me", h.me)
}

type userBody struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type messageBody struct {
	Message              string    `json:"message"`
	RequiresVerification bool      `json:"requiresVerification,omitempty"`
	User                 *userBody `json:"user,omitempty"`
}

func (h *Handler) post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if !h.decode(w, r, &in) {
		return
	}
	result, err := h.service.Register(r.Context(), in)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	user := &userBody{ID: result.User.ID, Email: result.User.Email}
	if result.Session == nil {
		writeJSON(w, http.StatusOK, messageBody{
			Message:              "Please check your email to verify your account",
			RequiresVerification: true,
			User:                 user,
		})
		return
	}
	h.setSession(w, result.Session)
	writeJSON(w, http.StatusOK, messageBody{Message: "Registration successful!", User: user})
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var in otpRequest
	if !h.decode(w, r, &in) {
		return
	}
	session, err := h.service.VerifySignup(r.Context(), in.Email, in.OTP)
	if err != nil {
		h.fail(w, "otp verify", err)
		return
	}
	h.setSession(w, session)
	writeJSON(w, http.StatusOK, messageBody{
		Message: "Email verified successfully!",
		User:    &userBody{ID: session.User.ID, Email: session.User.Email},
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) resendOTP(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.service.ResendSignup(r.Context(), in.Email); err != nil {
		h.fail(w, "otp resend", err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Verification code resent successfully!"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !h.decode(w, r, &in) {
		return
	}
	session, err := h.service.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	h.setSession(w, session)
	writeJSON(w, http.StatusOK, messageBody{
		Message: "Login successful",
		User:    &userBody{ID: session.User.ID, Email: session.User.Email},
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	h.service.Logout(r.Context(), identity.AccessToken)
	h.clearSession(w)
	writeJSON(w, http.StatusOK, messageBody{Message: "Logged out successfully"})
}

func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), in.Email); err != nil {
		h.fail(w, "password reset", err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password reset code sent to your email"})
}

func (h *Handler) verifyReset(w http.ResponseWriter, r *http.Request) {
	var in otpRequest
	if !h.decode(w, r, &in) {
		return
	}
	session, err := h.service.VerifyRecovery(r.Context(), in.Email, in.OTP)
	if err != nil {
		h.fail(w, "password reset verify", err)
		return
	}
	h.setSession(w, session)
	writeJSON(w, http.StatusOK, messageBody{
		Message: "Recovery code verified successfully!",
		User:    &userBody{ID: session.User.ID, Email: session.User.Email},
	})
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) updateReset(w http.ResponseWriter, r *http.Request) {
	var in passwordRequest
	if !h.decode(w, r, &in) {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	err := h.service.ResetPassword(r.Context(), identity.AccessToken, in.Password)
	if errors.Is(err, ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, "Not authenticated. Please verify your recovery code first.")
		return
	}
	if err != nil {
		h.fail(w, "password reset update", err)
		return
	}
	h.clearSession(w)
	writeJSON(w, http.StatusOK, messageBody{Message: "Password updated successfully! Please log in with your new password."})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var in changePasswordRequest
	if !h.decode(w, r, &in) {
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if err := h.service.ChangePassword(r.Context(), identity.AccessToken, in.CurrentPassword, in.NewPassword); err != nil {
		h.fail(w, "password change", err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password updated successfully"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	switch r.Method {
	case http.MethodGet:
		profile, err := h.service.Profile(r.Context(), identity.UserID, identity.Email)
		if err != nil {
			h.fail(w, "me", err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case http.MethodPatch:
		var fields map[string]any
		if !h.decode(w, r, &fields) {
			return
		}
		profile, err := h.service.UpdateProfile(r.Context(), identity.UserID, identity.Email, fields)
		if err != nil {
			h.fail(w, "me update", err)
			return
		}
		if profile == nil {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBody))
	if err != nil || json.Unmarshal(body, dst) != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	var input *InputError
	if errors.As(err, &input) {
		writeError(w, http.StatusBadRequest, input.Message)
		return
	}
	if errors.Is(err, ErrNotAuthenticated) {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Status < http.StatusInternalServerError {
		writeError(w, http.StatusBadRequest, providerErr.Message)
		return
	}
	h.logger.Printf("identity: %s: %v", action, err)
	writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
}

func (h *Handler) setSession(w http.ResponseWriter, session *Session) {
	if session == nil || session.AccessToken == "" {
		return
	}
	maxAge := session.ExpiresIn
	if maxAge <= 0 {
		maxAge = int(time.Hour / time.Second)
	}
	http.SetCookie(w, h.cookie(auth.SessionCookie, session.AccessToken, maxAge))
	if session.RefreshToken != "" {
		http.SetCookie(w, h.cookie(RefreshCookie, session.RefreshToken, int(refreshCookieTTL/time.Second)))
	}
}

func (h *Handler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(auth.SessionCookie, "", -1))
	http.SetCookie(w, h.cookie(RefreshCookie, "", -1))
}

func (h *Handler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
