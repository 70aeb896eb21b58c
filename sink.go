package pushrelay

import "context"

// PresentationSink renders notifications on whatever surface the host owns.
//
// activation is the opaque payload the host must hand back to Pipeline.Open
// when the user acts on the notification.
type PresentationSink interface {
	Render(ctx context.Context, notificationID int64, env Envelope, activation string) (RenderHandle, error)
	Dismiss(ctx context.Context, notificationID int64) error
}

// SinkFunc adapts a render function to a PresentationSink whose Dismiss is a no-op.
type SinkFunc func(ctx context.Context, notificationID int64, env Envelope, activation string) (RenderHandle, error)

func (f SinkFunc) Render(ctx context.Context, notificationID int64, env Envelope, activation string) (RenderHandle, error) {
	return f(ctx, notificationID, env, activation)
}

func (f SinkFunc) Dismiss(context.Context, int64) error { return nil }
