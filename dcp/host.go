package dcp

import "context"

// ErrorCode mirrors the memcached ENGINE_ERROR_CODE the original engine
// returns across this boundary (§7). Most Go call sites should prefer the
// sentinel errors in errors.go via errors.Is; ErrorCode is kept for host API calls
// specified in terms of a status code (NotifyIOComplete).
type ErrorCode int

const (
	Success ErrorCode = iota
	KeyEExists
	Disconnect
	TmpFail
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case KeyEExists:
		return "KEY_EEXISTS"
	case Disconnect:
		return "DISCONNECT"
	case TmpFail:
		return "TMPFAIL"
	default:
		return "UNKNOWN"
	}
}

// Item is whatever the storage engine hands back for a fetched key. This
// connection manager never interprets its contents - only ItemFetcher
// produces it and only the wire codec (out of scope, §1) consumes it -
// so it is carried as an opaque value plus the size needed for flow
// control (§6.2).
type Item struct {
	Key    string
	Value  []byte
	Cas    uint64
	Opaque interface{}
}

// ItemFetcher is the storage engine's item-by-key lookup, used by the
// producer's background-fetch pipeline (§4.E "Backfill pipeline").
type ItemFetcher interface {
	// Fetch returns ErrNotFound when the key is gone (e.g. since deleted);
	// any other error is a storage-layer failure.
	Fetch(ctx context.Context, key string, vb VBucketID, vbVersion uint64) (Item, error)
}

// VBucketStateSource exposes the storage engine's vbucket state. Nothing in
// this module reads it: ConnRegistry.VBucketStateChanged takes the new
// state as an argument from its caller.
type VBucketStateSource interface {
	State(vb VBucketID) (VBucketState, bool)
}

// Task is a unit of work the TaskScheduler runs out-of-line (background
// fetch, periodic notify, visitor scans). It is not this package's job to
// define what a task does - only to schedule and cancel it.
type Task interface {
	Run(ctx context.Context)
}

// TaskScheduler is the out-of-scope task dispatcher (§1, §6.1) that runs
// background-fetch and notification tasks.
type TaskScheduler interface {
	Schedule(t Task) (cancel func())
}

// StatsSink is the engine's stats callback, `(name, value) -> void` (§6.1).
type StatsSink func(name string, value interface{})

// NotifyIOComplete is the host API a paused channel calls through to wake
// the front-end I/O thread blocked on this cookie (§6.1, §5).
type NotifyIOComplete func(cookie Cookie, status ErrorCode)

// ConfigStore is the out-of-scope configuration store (§1, §6.3) that
// pushes live-updated tunables; AddListener mirrors the engine's typed
// change-listener registration.
type ConfigStore interface {
	AddListener(key string, listener func(value interface{})) error
}
