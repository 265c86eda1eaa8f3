package sequence

import "errors"

var (
	// ErrMissingTraceField is returned in Require mode when the payload lacks
	// the trace field.
	ErrMissingTraceField = errors.New("payload is missing required trace field")

	// ErrMissingTimestampField is returned in Require mode when the payload
	// lacks the timestamp field.
	ErrMissingTimestampField = errors.New("payload is missing required timestamp field")

	// ErrEnhancerClosed is returned by Enhance and EnhanceContext after
	// Close.
	ErrEnhancerClosed = errors.New("enhancer is closed")
)
