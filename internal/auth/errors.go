package auth

import "errors"

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrInvalidHash  = errors.New("invalid password hash format")
)
