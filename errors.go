package pushrelay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotBelonging reports a message without the ownership marker.
	// It is a classification, not a failure.
	ErrNotBelonging = errors.New("message does not belong to this pipeline")

	// ErrMalformedEnvelope reports a marked message whose typed fields do not parse.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrRenderFailure reports a presentation sink that failed or timed out.
	ErrRenderFailure = errors.New("render failure")

	// ErrDecodeFailure reports an activation payload that cannot be decoded.
	ErrDecodeFailure = errors.New("activation payload decode failure")
)

// MalformedEnvelopeError names the reserved key that failed to parse.
type MalformedEnvelopeError struct {
	Key string
	Err error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope: key %q: %v", e.Key, e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() []error {
	return []error{ErrMalformedEnvelope, e.Err}
}

// RenderError is returned when the sink could not render a notification.
type RenderError struct {
	NotificationID int64
	Err            error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render notification %d: %v", e.NotificationID, e.Err)
}

func (e *RenderError) Unwrap() []error {
	return []error{ErrRenderFailure, e.Err}
}
