package localclient

import "errors"

// ErrTransport wraps any network-level failure.
// All Local operations are safe to retry against it: push and pull are
// both idempotent.
var ErrTransport = errors.New("localclient: transport error")
