package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrInvalidSignal  = errors.New("invalid signal")
	ErrUnknownProduct = errors.New("unknown product")
	ErrExchange       = errors.New("exchange error")
	ErrLockHeld       = errors.New("lock already held")
)
