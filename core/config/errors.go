package config

import "errors"

var (
	// ErrNilConfig is returned when Load receives a nil pointer.
	ErrNilConfig = errors.New("nil config pointer")

	// ErrParseFailed wraps environment parsing errors.
	ErrParseFailed = errors.New("failed to parse environment variables")
)
