package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidIP     = errors.New("invalid ip address")
	ErrInvalidPolicy = errors.New("invalid policy")
)
