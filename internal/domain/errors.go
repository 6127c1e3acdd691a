package domain

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrUpstream          = errors.New("upstream error")
	ErrSignatureMismatch = errors.New("invalid payment signature")
	ErrPaymentFailed     = errors.New("payment failed")
)
