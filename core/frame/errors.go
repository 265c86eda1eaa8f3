package frame

import "errors"

var (
	// ErrPayloadTooLarge is returned when the serialized payload exceeds the
	// configured maximum size. Nothing is written for the affected send.
	ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrMarshalPayload is returned when the payload cannot be JSON-serialized.
	ErrMarshalPayload = errors.New("failed to marshal frame payload")
)
