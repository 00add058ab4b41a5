package auth

import "github.com/cockroachdb/errors"

var ErrInvalidToken = errors.New("auth: invalid token")
