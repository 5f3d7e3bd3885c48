// Package core holds the transport-facing contracts shared between the
// application registries and the connection adapters.
package core

import "errors"

// ErrConnClosed reports a send on a connection whose transport is gone.
// Distinct from backpressure: a closed connection will never drain.
var ErrConnClosed = errors.New("connection closed")

// Frame is an encoded wire payload ready to hand to a transport.
type Frame []byte

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
