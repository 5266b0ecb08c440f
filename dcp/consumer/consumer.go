// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package consumer implements Consumer (spec §4.F): the receive side of a
// replication channel, dispatching inbound wire events to storage and
// tracking per-vbucket passive-stream state.
//
// Grounded on DcpConsumer::addStream / processBufferedItems in
// _examples/original_source/engines/ep/src/dcp/dcpconnmap.cc
// (isPassiveStreamConnected_UNLOCKED, addPassiveStream's EEXISTS
// semantics) and on the teacher's atomic-yield-threshold idiom in
// parts/dcp_nozzle.go for live-tunable batch/yield settings.
package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/dcpconnmgr/dcp"
	"github.com/couchbase/dcpconnmgr/log"
)

// passiveStream tracks one vbucket's inbound replication stream.
type passiveStream struct {
	opaque uint32
	flags  uint32
	vb     dcp.VBucketID
}

// Sink is where a Consumer hands off events for application to storage
// (out of scope, spec §1 - this package stops at dispatch).
type Sink interface {
	ApplyMutation(ctx context.Context, item dcp.QueuedItem) error
	ApplyVBucketEvent(ctx context.Context, event dcp.VBucketEvent) error
}

// Consumer is the receive side of a replication channel (spec §4.F).
type Consumer struct {
	cookie dcp.Cookie
	name   string
	logger *log.CommonLogger
	sink   Sink

	connected  atomic.Bool
	disconnect atomic.Bool
	paused     atomic.Bool
	reserved   atomic.Bool

	numDisconnects atomic.Int64
	createdAt      time.Time

	streamMu sync.Mutex
	streams  map[dcp.VBucketID]*passiveStream

	// processorYieldThreshold and processBufferedMessagesBatchSize are
	// live-tunable via dcp/config (spec §6.3).
	processorYieldThreshold        atomic.Int64
	processBufferedMessagesBatchSize atomic.Int64

	cancelTaskOnce sync.Once
	cancelFn       func()

	notifyIOComplete dcp.NotifyIOComplete
}

const (
	defaultYieldThreshold = 1000
	defaultBatchSize      = 10
)

// New constructs a Consumer bound to cookie/name, dispatching applied
// events to sink.
func New(cookie dcp.Cookie, name string, sink Sink, notify dcp.NotifyIOComplete, logger *log.CommonLogger) *Consumer {
	c := &Consumer{
		cookie:           cookie,
		name:             name,
		logger:           logger,
		sink:             sink,
		streams:          make(map[dcp.VBucketID]*passiveStream),
		notifyIOComplete: notify,
		createdAt:        time.Now(),
	}
	c.connected.Store(true)
	c.reserved.Store(true)
	c.processorYieldThreshold.Store(defaultYieldThreshold)
	c.processBufferedMessagesBatchSize.Store(defaultBatchSize)
	return c
}

// --- dcp.Channel ---

func (c *Consumer) Cookie() dcp.Cookie    { return c.cookie }
func (c *Consumer) Name() string          { return c.name }
func (c *Consumer) Type() dcp.ChannelType { return dcp.ChannelConsumer }

func (c *Consumer) IsConnected() bool { return c.connected.Load() }

func (c *Consumer) SetConnected(v bool) {
	if !v && c.connected.Load() {
		c.numDisconnects.Add(1)
	}
	c.connected.Store(v)
}

func (c *Consumer) DoDisconnect() bool { return c.disconnect.Load() }
func (c *Consumer) SetDisconnect()     { c.disconnect.Store(true) }

func (c *Consumer) IsPaused() bool   { return c.paused.Load() }
func (c *Consumer) IsReserved() bool { return c.reserved.Load() }

func (c *Consumer) ReleaseReference() { c.reserved.Store(false) }

func (c *Consumer) NotifyPaused(schedule bool) {
	c.paused.Store(false)
	if c.notifyIOComplete != nil && c.reserved.Load() {
		c.notifyIOComplete(c.cookie, dcp.Success)
	}
}

func (c *Consumer) AddStats(sink dcp.StatsSink) {
	sink(c.name+":type", dcp.ChannelConsumer.String())
	sink(c.name+":created", c.createdAt.Unix())
	sink(c.name+":connected", c.connected.Load())
	sink(c.name+":pending_disconnect", c.disconnect.Load())
	if n := c.numDisconnects.Load(); n > 0 {
		sink(c.name+":disconnects", n)
	}
	c.streamMu.Lock()
	numStreams := len(c.streams)
	c.streamMu.Unlock()
	sink(c.name+":num_streams", numStreams)
}

// --- passive streams ---

// AddPassiveStream opens a passive (inbound replication) stream for vb,
// per spec §4.F. It returns dcp.ErrKeyExists if vb already has one open -
// ConnRegistry.AddPassiveStream has already checked
// isPassiveStreamConnected across every consumer before calling this, but
// this check is made here too since Consumer is the source of truth for
// its own stream table.
func (c *Consumer) AddPassiveStream(opaque uint32, vb dcp.VBucketID, flags uint32) error {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if _, exists := c.streams[vb]; exists {
		return dcp.ErrKeyExists
	}
	c.streams[vb] = &passiveStream{opaque: opaque, flags: flags, vb: vb}
	return nil
}

// IsPassiveStreamConnected reports whether vb currently has an open
// passive stream (spec §4.F, grounded on
// DcpConsumer::isStreamPresent / isPassiveStreamConnected_UNLOCKED).
func (c *Consumer) IsPassiveStreamConnected(vb dcp.VBucketID) bool {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	_, exists := c.streams[vb]
	return exists
}

// CloseStream removes vb's passive stream, if any.
func (c *Consumer) CloseStream(vb dcp.VBucketID) {
	c.streamMu.Lock()
	delete(c.streams, vb)
	c.streamMu.Unlock()
}

// CloseAllStreams removes every passive stream and requests disconnect
// teardown (spec §4.G "closeStreams").
func (c *Consumer) CloseAllStreams() {
	c.streamMu.Lock()
	c.streams = make(map[dcp.VBucketID]*passiveStream)
	c.streamMu.Unlock()
	c.SetDisconnect()
}

// VBuckets returns the vbuckets this consumer currently has passive
// streams open on, used by the registry's per-vb index bookkeeping.
func (c *Consumer) VBuckets() []dcp.VBucketID {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	vbs := make([]dcp.VBucketID, 0, len(c.streams))
	for vb := range c.streams {
		vbs = append(vbs, vb)
	}
	return vbs
}

// --- task lifecycle ---

// SetCancelFunc stores the function the registry should call to cancel
// this consumer's processing task; idempotent via CancelTask.
func (c *Consumer) SetCancelFunc(fn func()) {
	c.cancelFn = fn
}

// CancelTask cancels the consumer's processing task exactly once, safe to
// call multiple times (spec §4.F "cancelTask() idempotent").
func (c *Consumer) CancelTask() {
	c.cancelTaskOnce.Do(func() {
		if c.cancelFn != nil {
			c.cancelFn()
		}
	})
}

// --- live-tunable settings (spec §6.3) ---

// SetProcessorYieldThreshold live-updates the number of buffered messages
// processed before the consumer's task yields the scheduler.
func (c *Consumer) SetProcessorYieldThreshold(n int) {
	c.processorYieldThreshold.Store(int64(n))
}

func (c *Consumer) ProcessorYieldThreshold() int {
	return int(c.processorYieldThreshold.Load())
}

// SetProcessBufferedMessagesBatchSize live-updates the batch size used by
// ProcessBufferedMessages.
func (c *Consumer) SetProcessBufferedMessagesBatchSize(n int) {
	c.processBufferedMessagesBatchSize.Store(int64(n))
}

func (c *Consumer) ProcessBufferedMessagesBatchSize() int {
	return int(c.processBufferedMessagesBatchSize.Load())
}

// --- dispatch ---

// validStream reports whether vb currently has an open passive stream
// whose opaque matches (spec §4.F: "validate opaque and vbucket against
// its known passive streams" before forwarding to the engine). opaque == 0
// is treated as unspecified and matches any stream on vb, so internally
// synthesized events (e.g. a replayed stream-end) don't need to thread an
// opaque through.
func (c *Consumer) validStream(vb dcp.VBucketID, opaque uint32) bool {
	c.streamMu.Lock()
	s, ok := c.streams[vb]
	c.streamMu.Unlock()
	if !ok {
		return false
	}
	return opaque == 0 || opaque == s.opaque
}

// ProcessBufferedMessages drains up to one batch (per
// ProcessBufferedMessagesBatchSize) of buffered items through Sink,
// yielding (returning before the batch is exhausted) once
// ProcessorYieldThreshold items have been taken from items in this call
// (dropped ones included), so a single consumer can't monopolize the task
// scheduler (spec §6.3). Items
// whose opaque/vbucket don't match a known passive stream are dropped
// rather than applied or counted as an error - the engine never sees
// traffic for a stream this consumer didn't open.
func (c *Consumer) ProcessBufferedMessages(ctx context.Context, items []dcp.QueuedItem) (processed int, err error) {
	batchSize := c.ProcessBufferedMessagesBatchSize()
	yieldAt := c.ProcessorYieldThreshold()

	for i, item := range items {
		if i >= batchSize || i >= yieldAt {
			break
		}
		if !c.validStream(item.VBucketID, item.Opaque) {
			if c.logger != nil {
				c.logger.Warnf("%s: dropping mutation for key %q vb %d: no matching passive stream", c.name, item.Key, item.VBucketID)
			}
			continue
		}
		if applyErr := c.sink.ApplyMutation(ctx, item); applyErr != nil {
			if c.logger != nil {
				c.logger.Warnf("%s: failed to apply mutation for key %q vb %d: %v", c.name, item.Key, item.VBucketID, applyErr)
			}
			return processed, applyErr
		}
		processed++
	}
	return processed, nil
}

// ApplyVBucketEvent dispatches a control event (set-vbucket-state,
// stream-end) through to the sink, after the same opaque/vbucket
// validation ProcessBufferedMessages applies to mutations.
func (c *Consumer) ApplyVBucketEvent(ctx context.Context, event dcp.VBucketEvent) error {
	if !c.validStream(event.VBucketID, event.Opaque) {
		if c.logger != nil {
			c.logger.Warnf("%s: dropping %s event for vb %d: no matching passive stream", c.name, event.Kind, event.VBucketID)
		}
		return nil
	}
	if event.Kind == dcp.EventStreamEnd {
		c.CloseStream(event.VBucketID)
	}
	return c.sink.ApplyVBucketEvent(ctx, event)
}
