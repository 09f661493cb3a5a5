package core

import (
	"context"

	"github.com/echolabs/echo-server/internal/proto"
)

// Conn is a live bidirectional connection as seen by the core layer. The
// transport owns the underlying socket; registries only hold references.
// Identity is the interface value itself, so two connections from the same
// user are distinct entries.
//
// Send must be safe for concurrent use: broadcasts from other sessions and
// HTTP handlers race with the owning session's own replies.
type Conn interface {
	// Read blocks until the next inbound frame arrives and returns its raw
	// payload. It returns an error when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Send serializes the event to the connection. A non-nil error marks the
	// connection dead; callers treat it as a prune signal, never a failure
	// to propagate.
	Send(ev proto.Event) error
}
