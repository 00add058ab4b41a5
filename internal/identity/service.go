package identity

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"greenthread/internal/observability/metrics"
)

// Provider is the hosted auth backend.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (SignUpResult, error)
	Verify(ctx context.Context, otpType, email, token string) (*Session, error)
	Resend(ctx context.Context, email string) error
	PasswordGrant(ctx context.Context, email, password string) (*Session, error)
	Recover(ctx context.Context, email string) error
	GetUser(ctx context.Context, accessToken string) (*User, error)
	UpdatePassword(ctx context.Context, accessToken, password string) error
	Logout(ctx context.Context, accessToken string) error
}

// ActionRecorder notes security-relevant user actions.
type ActionRecorder interface {
	RecordAction(ctx context.Context, action, userID, description string) error
}

// Service implements the account flows.
type Service struct {
	provider Provider
	profiles ProfileRepository
	recorder ActionRecorder
	logger   *log.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithActionRecorder records password changes.
func WithActionRecorder(recorder ActionRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// NewService constructs the service.
func NewService(provider Provider, profiles ProfileRepository, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if provider == nil {
		return nil, errors.New("identity: nil provider")
	}
	if profiles == nil {
		return nil, errors.New("identity: nil profile repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{provider: provider, profiles: profiles, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterInput is a signup request.
type RegisterInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

// Register creates an account. Session is nil when the provider requires
// email verification first.
func (s *Service) Register(ctx context.Context, in RegisterInput) (SignUpResult, error) {
	if in.Email == "" || in.Password == "" {
		return SignUpResult{}, invalid("Email and password are required")
	}
	if err := ValidateEmail(in.Email); err != nil {
		return SignUpResult{}, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return SignUpResult{}, err
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.Password {
		return SignUpResult{}, invalid("Passwords do not match")
	}
	result, err := s.provider.SignUp(ctx, in.Email, in.Password)
	s.observe("register", err)
	if err != nil {
		return SignUpResult{}, err
	}
	if result.Session != nil {
		s.ensureProfile(ctx, result.User)
	}
	return result, nil
}

// VerifySignup exchanges the signup OTP for a session.
func (s *Service) VerifySignup(ctx context.Context, email, otp string) (*Session, error) {
	return s.verify(ctx, "otp_verify", OTPSignup, email, otp)
}

// VerifyRecovery exchanges the recovery OTP for a session.
func (s *Service) VerifyRecovery(ctx context.Context, email, otp string) (*Session, error) {
	return s.verify(ctx, "recovery_verify", OTPRecovery, email, otp)
}

func (s *Service) verify(ctx context.Context, action, otpType, email, otp string) (*Session, error) {
	if email == "" || otp == "" {
		return nil, invalid("Email and OTP are required")
	}
	if err := ValidateOTP(otp); err != nil {
		return nil, err
	}
	session, err := s.provider.Verify(ctx, otpType, email, otp)
	s.observe(action, err)
	if err != nil {
		return nil, err
	}
	s.ensureProfile(ctx, session.User)
	return session, nil
}

// ResendSignup re-sends the signup OTP.
func (s *Service) ResendSignup(ctx context.Context, email string) error {
	if email == "" {
		return invalid("Email is required")
	}
	err := s.provider.Resend(ctx, email)
	s.observe("otp_resend", err)
	return err
}

// Login signs in with email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, invalid("Email and password are required")
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	session, err := s.provider.PasswordGrant(ctx, email, password)
	s.observe("login", err)
	if err != nil {
		return nil, err
	}
	s.ensureProfile(ctx, session.User)
	return session, nil
}

// Logout revokes the session. Provider failures are logged only; the caller
// clears its cookies either way.
func (s *Service) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	err := s.provider.Logout(ctx, accessToken)
	s.observe("logout", err)
	if err != nil {
		s.logger.Printf("identity: logout: %v", err)
	}
}

// RequestPasswordReset sends a recovery OTP.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return invalid("Email is required")
	}
	err := s.provider.Recover(ctx, email)
	s.observe("password_reset", err)
	return err
}

// ResetPassword sets a new password for a recovery session and signs it out.
func (s *Service) ResetPassword(ctx context.Context, accessToken, password string) error {
	if password == "" {
		return invalid("Password is required")
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}
	user, err := s.currentUser(ctx, accessToken)
	if err != nil {
		return err
	}
	err = s.provider.UpdatePassword(ctx, accessToken, password)
	s.observe("password_reset_update", err)
	if err != nil {
		return err
	}
	s.record(ctx, "password_reset", user.ID, "Password reset via recovery code")
	s.Logout(ctx, accessToken)
	return nil
}

// ChangePassword verifies the current password before updating it.
func (s *Service) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return invalid("Current password and new password are required")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.currentUser(ctx, accessToken)
	if err != nil {
		return err
	}
	if _, err := s.provider.PasswordGrant(ctx, user.Email, currentPassword); err != nil {
		var providerErr *ProviderError
		if errors.As(err, &providerErr) && providerErr.Status < http.StatusInternalServerError {
			s.observe("password_change", err)
			return invalid("Current password is incorrect")
		}
		s.observe("password_change", err)
		return err
	}
	err = s.provider.UpdatePassword(ctx, accessToken, newPassword)
	s.observe("password_change", err)
	if err != nil {
		return err
	}
	s.record(ctx, "password_change", user.ID, "Password changed")
	return nil
}

// Profile returns the caller's profile, creating it on first access.
func (s *Service) Profile(ctx context.Context, userID, email string) (*Profile, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}
	return s.profiles.Ensure(ctx, userID, email)
}

// UpdateProfile applies the writable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, userID, email string, fields map[string]any) (*Profile, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	raw, ok := fields["full_name"]
	if !ok || len(fields) != 1 {
		return nil, invalid("Only full_name can be updated")
	}
	fullName, ok := raw.(string)
	if !ok {
		return nil, invalid("full_name must be a string")
	}
	fullName = strings.TrimSpace(fullName)
	if _, err := s.Profile(ctx, userID, email); err != nil {
		return nil, err
	}
	return s.profiles.UpdateFullName(ctx, userID, fullName)
}

func (s *Service) currentUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrNotAuthenticated
	}
	user, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		var providerErr *ProviderError
		if errors.As(err, &providerErr) && providerErr.Status == http.StatusUnauthorized {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) ensureProfile(ctx context.Context, user User) {
	if user.ID == "" {
		return
	}
	if _, err := s.profiles.Ensure(ctx, user.ID, user.Email); err != nil {
		s.logger.Printf("identity: ensure profile %s: %v", user.ID, err)
	}
}

func (s *Service) record(ctx context.Context, action, userID, description string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordAction(ctx, action, userID, description); err != nil {
		s.logger.Printf("identity: record %s: %v", action, err)
	}
}

func (s *Service) observe(action string, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.IncAuthRequest(action, result)
}
