package inputs

import (
	"context"
	"net/http"
)

// MessageInput is implemented by all source types. Start must not block
// beyond delivering what is immediately available.
type MessageInput interface {
	Start(ctx context.Context) error
	Stop() error
}

// HTTPEndpointInput is implemented by inputs that expose an HTTP endpoint.
// They provide a path and handler that can be mounted on any HTTP router.
type HTTPEndpointInput interface {
	MessageInput
	Path() string
	Handler() http.Handler
}

// OneShotInput is implemented by inputs that deliver all of their data during
// Start. A started one-shot source is never started again.
type OneShotInput interface {
	MessageInput
	OneShot() bool
}

// Listener is implemented by HTTP inputs that bind their own address
// instead of being mounted on the main server.
type Listener interface {
	ListenAddr() string
}
