package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrDenied             = errors.New("auth: authorization denied")
	ErrInvalidGrantTarget = errors.New("auth: invalid grant target")
	ErrInvalidToken       = errors.New("auth: invalid token")
)
