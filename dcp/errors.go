package dcp

import "errors"

// Sentinel errors, grounded on base/errors.go's package-level
// `var X = errors.New(...)` convention. These are the Go-idiomatic
// (errors.Is-comparable) counterpart to ErrorCode in host.go; callers working
// against the host API (status codes) use ErrorCode, callers working
// against ordinary Go functions use these.
var (
	// ErrKeyExists is returned when a second passive stream is requested
	// for a vbucket that already has one (§7).
	ErrKeyExists = errors.New("a passive stream already exists for this vbucket")

	// ErrDisconnect is returned when an operation is attempted on a channel
	// already in want-disconnect state (§7).
	ErrDisconnect = errors.New("channel is disconnecting")

	// ErrTmpFail signals transient back-pressure - ack window full or
	// backfill admission denied (§7). Producers are expected to pause and
	// rely on notification rather than surface this to the caller.
	ErrTmpFail = errors.New("temporary failure, try again")

	// ErrNotFound is returned by ItemFetcher when a key is no longer
	// present in storage.
	ErrNotFound = errors.New("item not found")

	// ErrNoSuchChannel is returned by registry lookups that found nothing.
	ErrNoSuchChannel = errors.New("no such channel")
)
