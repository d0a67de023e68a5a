package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidFile         = errors.New("invalid file")
	ErrMissingField        = errors.New("missing field")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
