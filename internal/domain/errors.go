package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrStopped       = errors.New("engine stopped")
	ErrNoIdentity    = errors.New("no derivable item identity")
	ErrSigningFailed = errors.New("signing failed")
	ErrContextDone   = errors.New("context cancelled")
)
