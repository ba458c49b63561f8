package lifecycle

import "errors"

// ErrNotReady is the admission error: an operation was attempted while
// RuntimeState is not Ready and the operation is not on the allow-list.
var ErrNotReady = errors.New("vfs not initialized")

// ErrSuperseded marks an init/loadBundle attempt whose result is being
// discarded because a later loadBundle call replaced it in flight.
// Superseded callers receive no response — this error never crosses the
// RPC boundary, it only short-circuits internal waiters.
var ErrSuperseded = errors.New("loadBundle superseded by a newer call")
