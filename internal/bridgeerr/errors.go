// Package bridgeerr classifies the error kinds a call session can hit, per
// SPEC_FULL.md §7's disposition table.
package bridgeerr

import "errors"

var (
	// ErrConnectFailure: the AI WebSocket refused the connection.
	ErrConnectFailure = errors.New("ai websocket connect failure")
	// ErrHandshakeFailure: the first AI message was not a 0x00 binary frame.
	ErrHandshakeFailure = errors.New("ai websocket handshake failure")
	// ErrStreamClosed: either side's WebSocket closed or errored.
	ErrStreamClosed = errors.New("stream closed")
)

// PostCallFailure wraps an error encountered during fire-and-forget
// post-call processing. It is always logged, never surfaced to the caller.
type PostCallFailure struct {
	ConversationID string
	Err            error
}

func (e *PostCallFailure) Error() string {
	return "post-call failure for conversation " + e.ConversationID + ": " + e.Err.Error()
}

func (e *PostCallFailure) Unwrap() error { return e.Err }
