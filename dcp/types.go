// Package dcp holds the domain types and host-facing interfaces shared by
// the replication connection manager's sub-packages (filter, queue, acklog,
// admission, producer, consumer, connmap, config, stats, wire). Keeping
// these in the root package lets connmap depend on producer and consumer
// without either of those depending back on connmap - they see it only
// through the Channel interface below.
package dcp

import (
	"fmt"
)

// Cookie is the process-unique token the front-end I/O layer supplies when
// opening a channel. It is treated as an opaque comparable value and used
// as a map key in the registry, matching the `const void *cookie` of the
// original engine.
type Cookie interface{}

// VBucketID identifies a logical partition of the keyspace.
type VBucketID uint16

// VBucketState mirrors the storage engine's vbucket_state_t.
type VBucketState int

const (
	VBStateActive VBucketState = iota
	VBStateReplica
	VBStatePending
	VBStateDead
)

func (s VBucketState) String() string {
	switch s {
	case VBStateActive:
		return "active"
	case VBStateReplica:
		return "replica"
	case VBStatePending:
		return "pending"
	case VBStateDead:
		return "dead"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Op is the kind of a queued mutation.
type Op int

const (
	OpMutation Op = iota
	OpDeletion
	OpExpiration
	OpFlush
	OpSetVBucket
)

func (o Op) String() string {
	switch o {
	case OpMutation:
		return "mutation"
	case OpDeletion:
		return "deletion"
	case OpExpiration:
		return "expiration"
	case OpFlush:
		return "flush"
	case OpSetVBucket:
		return "set_vbucket"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// QueuedItem is a single logical mutation pending delivery on a channel.
type QueuedItem struct {
	Key       string
	VBucketID VBucketID
	Op        Op
	// Opaque identifies which of a Consumer's passive streams (spec §4.F)
	// this item belongs to. Zero means "unspecified" and matches any open
	// stream on VBucketID - producer-originated items never set it.
	Opaque uint32
	// Value carries the mutation's body, opaque to this package: dcp/wire
	// sizes and optionally snappy-compresses it (spec §6.2, §10) but never
	// interprets it. Empty for control items with no associated value.
	Value []byte
	// Compressed reports whether Value has already been snappy-encoded by
	// a producer's emit path (spec §10 "DCP value compression").
	Compressed bool
	// CAS and Seqno are carried for callers that need to size/serialize the
	// wire event (see dcp/wire); the connection manager itself only keys on
	// Key/VBucketID/Op.
	Cas   uint64
	Seqno uint64
}

// DedupKey is (key, vbucket) - the identity EventQueue deduplicates on.
type DedupKey struct {
	Key       string
	VBucketID VBucketID
}

func (i QueuedItem) DedupKey() DedupKey {
	return DedupKey{Key: i.Key, VBucketID: i.VBucketID}
}

// EventKind is the kind of a VBucketEvent (§3 "VBucket event").
type EventKind int

const (
	EventOpaque EventKind = iota
	EventSetVBucketState
	EventStreamStart
	EventStreamEnd
)

func (k EventKind) String() string {
	switch k {
	case EventOpaque:
		return "opaque"
	case EventSetVBucketState:
		return "set_vbucket_state"
	case EventStreamStart:
		return "stream_start"
	case EventStreamEnd:
		return "stream_end"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// VBucketEvent is a high/low priority control event, held outside the
// regular mutation queue (§3, §4.E step() ordering 1 and 4).
type VBucketEvent struct {
	Kind      EventKind
	VBucketID VBucketID
	State     VBucketState
	// Opaque identifies the passive stream this event targets, same
	// zero-means-unspecified convention as QueuedItem.Opaque.
	Opaque uint32
}

// ChannelType discriminates producer from consumer for stats/diagnostics
// without leaking the distinction to registry callers (§9).
type ChannelType int

const (
	ChannelProducer ChannelType = iota
	ChannelConsumer
)

func (t ChannelType) String() string {
	if t == ChannelProducer {
		return "producer"
	}
	return "consumer"
}

// Channel is the capability every registry-managed connection exposes. Both
// *producer.Producer and *consumer.Consumer implement it; the registry
// never needs to know which (§9 "a small tagged enum or a two-method
// abstract capability").
type Channel interface {
	Cookie() Cookie
	Name() string
	Type() ChannelType

	IsConnected() bool
	SetConnected(bool)

	DoDisconnect() bool
	SetDisconnect()

	IsPaused() bool
	IsReserved() bool

	// ReleaseReference drops the front-end's reference count; called
	// exactly once per channel, from ManageConnections's reap pass.
	ReleaseReference()

	CloseAllStreams()

	// NotifyPaused wakes (or schedules waking) a paused channel; used by
	// ManageConnections and by shutdown.
	NotifyPaused(schedule bool)

	AddStats(sink StatsSink)
}
