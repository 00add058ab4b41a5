package identity

import (
	"net/mail"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// ErrInvalidInput marks request validation failures.
var ErrInvalidInput = errors.New("identity: invalid input")

// ErrNotAuthenticated means the request carried no usable session.
var ErrNotAuthenticated = errors.New("identity: not authenticated")

// InputError is a user-facing validation failure.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

// Is lets callers test with errors.Is(err, ErrInvalidInput).
func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(message string) error {
	return &InputError{Message: message}
}

const (
	minPasswordLength = 8
	otpLength         = 6
	passwordSpecials  = "!@#$%^&*()_-+=[]{};':\"\\|,.<>/?"
)

// ValidateEmail accepts a bare address.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return invalid("Email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("Please enter a valid email address")
	}
	return nil
}

// ValidatePassword enforces length and character classes for new passwords.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return invalid("Password must be at least 8 characters")
	}
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return invalid("Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character")
	}
	return nil
}

// ValidateOTP accepts exactly six digits.
func ValidateOTP(otp string) error {
	if len(otp) != otpLength {
		return invalid("OTP must be 6 digits")
	}
	for _, r := range otp {
		if r < '0' || r > '9' {
			return invalid("OTP must be 6 digits")
		}
	}
	return nil
}
