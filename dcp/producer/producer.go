// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package producer implements Producer (spec §4.E): the per-channel send
// engine that merges high-priority vbucket events, background-fetch
// results and the live mutation queue into a single consumer-visible
// stream, and runs the ack/retransmit protocol over it.
//
// Grounded on DcpProducer's step()/backfill/ack-protocol description in
// _examples/original_source/tapconnection.hh and dcpconnmap.cc, and on
// parts/dcp_nozzle.go's goroutine/atomic/sync.RWMutex idiom for per-stream
// state (dcpStreamReqHelper) from the teacher repo.
package producer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/couchbase/dcpconnmgr/base"
	"github.com/couchbase/dcpconnmgr/dcp"
	"github.com/couchbase/dcpconnmgr/dcp/acklog"
	"github.com/couchbase/dcpconnmgr/dcp/admission"
	"github.com/couchbase/dcpconnmgr/dcp/filter"
	"github.com/couchbase/dcpconnmgr/dcp/queue"
	"github.com/couchbase/dcpconnmgr/dcp/stats"
	"github.com/couchbase/dcpconnmgr/dcp/wire"
	"github.com/couchbase/dcpconnmgr/log"
)

// StreamState is a single vbucket stream's position in the state machine
// pending_backfill -> in_memory -> (optional) completing -> closed.
type StreamState int

const (
	StreamPendingBackfill StreamState = iota
	StreamInMemory
	StreamCompleting
	StreamClosed
)

type streamEntry struct {
	state   StreamState
	version uint64
}

// StepKind is the outcome of a call to Step.
type StepKind int

const (
	StepNothing StepKind = iota // nothing to send right now
	StepWait                    // ack window full; caller should pause
	StepEvent                   // an event is ready to send
)

// StepOutput is what Step hands the front-end I/O layer to serialize and
// send (spec §4.E "step()").
type StepOutput struct {
	Kind         StepKind
	Item         *dcp.QueuedItem
	VBEvent      *dcp.VBucketEvent
	Seqno        uint64
	AckRequested bool
}

// backfillQueueItem is an item not resident in cache, queued for the
// background fetch dispatcher (spec §4.E "Backfill pipeline").
type backfillQueueItem struct {
	Key       string
	DiskID    uint64
	VBucketID dcp.VBucketID
	VBVersion uint64
}

// Config carries the producer's tunables, read once by New (see
// Producer.cfg for what can change afterward).
type Config struct {
	AckEnabled     bool
	AckWindowSize  int
	AckInterval    int
	AckGracePeriod time.Duration
	BGMaxPending   int
	DumpMode       bool // true for a one-shot (non-continuous) stream

	// CompressionRatio, if set, returns the channel's currently negotiated
	// min_compression_ratio (spec §6.3 KeyMinCompressionRatio). emitItem
	// consults it to decide whether an item's value goes out
	// snappy-compressed (dcp/wire.ShouldSendCompressed) before it is
	// wire-sized (dcp/wire.MutationSize) for stats. ConnRegistry.OpenProducer
	// wires this to ConnRegistry.MinCompressionRatio.
	CompressionRatio func() float64
}

// Producer is the per-channel send engine (spec §4.E).
type Producer struct {
	cookie dcp.Cookie
	name   string
	logger *log.CommonLogger

	connected  atomic.Bool
	disconnect atomic.Bool
	paused     atomic.Bool
	reserved   atomic.Bool

	numDisconnects atomic.Int64
	createdAt      time.Time

	filter    *filter.VBucketFilter
	queue     *queue.EventQueue
	ackLog    *acklog.AckLog
	admission *admission.BackfillAdmission
	metrics   *stats.ChannelRegistry
	fetcher   dcp.ItemFetcher

	// cfg is set once at construction and never updated. Afterward only the
	// ack window (SetAckWindowSize, on ackLog) and the background-fetch cap
	// (SetBGMaxPending, on bgFetchSem, driven by dcp/config
	// KeyBGMaxPending) can change.
	cfg Config

	seqno          atomic.Uint64
	eventsSinceAck int

	streamMu sync.Mutex
	streams  map[dcp.VBucketID]*streamEntry

	hiMu sync.Mutex
	hi   []dcp.VBucketEvent
	loMu sync.Mutex
	lo   []dcp.VBucketEvent

	bfQueueMu sync.Mutex
	bfQueue   []backfillQueueItem

	bfResultMu sync.Mutex
	bfResults  []dcp.QueuedItem

	diskBackfillCounter atomic.Int64
	bgFetchSem          *base.Semaphore

	lastAckAt atomic.Int64 // unix nanos; grace-period tracking

	notifyIOComplete dcp.NotifyIOComplete
}

// New constructs a Producer bound to cookie/name, admitting vbs through
// vbFilter. admission is the process-wide BackfillAdmission shared across
// every producer; notify is the host's NotifyIOComplete, invoked when a
// paused producer should be woken.
func New(
	cookie dcp.Cookie,
	name string,
	vbFilter *filter.VBucketFilter,
	adm *admission.BackfillAdmission,
	fetcher dcp.ItemFetcher,
	notify dcp.NotifyIOComplete,
	logger *log.CommonLogger,
	cfg Config,
) *Producer {
	if cfg.AckWindowSize <= 0 {
		cfg.AckWindowSize = 4096
	}
	if cfg.AckInterval <= 0 {
		cfg.AckInterval = 1
	}
	if cfg.BGMaxPending <= 0 {
		cfg.BGMaxPending = 32
	}

	p := &Producer{
		cookie:           cookie,
		name:             name,
		logger:           logger,
		filter:           vbFilter,
		queue:            queue.New(),
		ackLog:           acklog.New(cfg.AckWindowSize),
		admission:        adm,
		metrics:          stats.NewChannelRegistry(name, dcp.ChannelProducer),
		fetcher:          fetcher,
		cfg:              cfg,
		streams:          make(map[dcp.VBucketID]*streamEntry),
		bgFetchSem:       base.NewSemaphore(cfg.BGMaxPending),
		notifyIOComplete: notify,
		createdAt:        time.Now(),
	}
	p.connected.Store(true)
	p.reserved.Store(true)
	for _, vb := range vbFilter.VBuckets() {
		p.streams[vb] = &streamEntry{state: StreamInMemory}
	}
	return p
}

// --- dcp.Channel ---

func (p *Producer) Cookie() dcp.Cookie    { return p.cookie }
func (p *Producer) Name() string          { return p.name }
func (p *Producer) Type() dcp.ChannelType { return dcp.ChannelProducer }

func (p *Producer) IsConnected() bool { return p.connected.Load() }

func (p *Producer) SetConnected(v bool) {
	if !v && p.connected.Load() {
		p.numDisconnects.Add(1)
		p.metrics.IncDisconnects()
	}
	p.connected.Store(v)
}

func (p *Producer) DoDisconnect() bool { return p.disconnect.Load() }
func (p *Producer) SetDisconnect()     { p.disconnect.Store(true) }

func (p *Producer) IsPaused() bool   { return p.paused.Load() }
func (p *Producer) IsReserved() bool { return p.reserved.Load() }

func (p *Producer) ReleaseReference() { p.reserved.Store(false) }

func (p *Producer) NotifyPaused(schedule bool) {
	p.paused.Store(false)
	if p.notifyIOComplete != nil && p.reserved.Load() {
		p.notifyIOComplete(p.cookie, dcp.Success)
	}
}

func (p *Producer) AddStats(sink dcp.StatsSink) {
	sink(p.name+":type", dcp.ChannelProducer.String())
	sink(p.name+":created", p.createdAt.Unix())
	sink(p.name+":connected", p.connected.Load())
	sink(p.name+":pending_disconnect", p.disconnect.Load())
	sink(p.name+":supports_ack", p.cfg.AckEnabled)
	if n := p.numDisconnects.Load(); n > 0 {
		sink(p.name+":disconnects", n)
	}
	p.metrics.SampleBacklog(p.queue.Len())
	p.metrics.SampleQueueMemSize(p.queue.MemSize())
	p.metrics.SampleAckLogSize(p.ackLog.Len())
	p.metrics.AddStats(sink)
}

// VBuckets returns the vbuckets this producer's filter currently admits,
// used by the registry to remove per-vb index entries on reap (spec §4.G
// "removeVBConnections").
func (p *Producer) VBuckets() []dcp.VBucketID { return p.filter.VBuckets() }

// Filter exposes the producer's VBucketFilter for the registry's
// per-vbucket indexing (spec invariant: c in vbConns[v] iff c's filter
// admits v).
func (p *Producer) Filter() *filter.VBucketFilter { return p.filter }

// --- ack protocol ---

// ProcessAck advances or rolls back the ack log depending on status (spec
// §4.E "Ack protocol"). A non-success status replays every entry from
// seqno forward back into the producer's queues, and rewinds the send
// seqno to the replay point.
func (p *Producer) ProcessAck(seqno uint64, status dcp.ErrorCode) error {
	p.lastAckAt.Store(time.Now().UnixNano())

	if status == dcp.Success {
		p.ackLog.Ack(seqno)
		p.metrics.IncAcksReceived()
		if p.paused.Load() && !p.ackLog.IsFull() {
			p.NotifyPaused(false)
		}
		return nil
	}

	replayed := p.ackLog.Rollback(seqno)
	for i := len(replayed) - 1; i >= 0; i-- {
		el := replayed[i]
		if el.Item != nil {
			p.queue.PushFront(*el.Item)
		} else if el.VBEvent != nil {
			if el.HighPriority {
				p.pushFrontHi(*el.VBEvent)
			} else {
				p.pushFrontLo(*el.VBEvent)
			}
		}
	}
	p.seqno.Store(seqno - 1)
	if p.paused.Load() {
		p.NotifyPaused(false)
	}
	return nil
}

func (p *Producer) requestAck(force bool) bool {
	if !p.cfg.AckEnabled {
		return false
	}
	if force {
		p.eventsSinceAck = 0
		return true
	}
	p.eventsSinceAck++
	if p.eventsSinceAck >= p.cfg.AckInterval {
		p.eventsSinceAck = 0
		return true
	}
	return false
}

// --- priority queues ---

func (p *Producer) pushHi(e dcp.VBucketEvent) (wasEmpty bool) {
	p.hiMu.Lock()
	defer p.hiMu.Unlock()
	wasEmpty = len(p.hi) == 0
	p.hi = append(p.hi, e)
	return
}

func (p *Producer) pushFrontHi(e dcp.VBucketEvent) {
	p.hiMu.Lock()
	defer p.hiMu.Unlock()
	p.hi = append([]dcp.VBucketEvent{e}, p.hi...)
}

func (p *Producer) popHi(pass queue.Admitter) (dcp.VBucketEvent, bool) {
	p.hiMu.Lock()
	defer p.hiMu.Unlock()
	for len(p.hi) > 0 {
		e := p.hi[0]
		p.hi = p.hi[1:]
		if pass == nil || pass(e.VBucketID) {
			return e, true
		}
	}
	return dcp.VBucketEvent{}, false
}

func (p *Producer) pushLo(e dcp.VBucketEvent) (wasEmpty bool) {
	p.loMu.Lock()
	defer p.loMu.Unlock()
	wasEmpty = len(p.lo) == 0
	p.lo = append(p.lo, e)
	return
}

func (p *Producer) pushFrontLo(e dcp.VBucketEvent) {
	p.loMu.Lock()
	defer p.loMu.Unlock()
	p.lo = append([]dcp.VBucketEvent{e}, p.lo...)
}

func (p *Producer) popLo(pass queue.Admitter) (dcp.VBucketEvent, bool) {
	p.loMu.Lock()
	defer p.loMu.Unlock()
	for len(p.lo) > 0 {
		e := p.lo[0]
		p.lo = p.lo[1:]
		if pass == nil || pass(e.VBucketID) {
			return e, true
		}
	}
	return dcp.VBucketEvent{}, false
}

func (p *Producer) hiEmpty() bool {
	p.hiMu.Lock()
	defer p.hiMu.Unlock()
	return len(p.hi) == 0
}

func (p *Producer) loEmpty() bool {
	p.loMu.Lock()
	defer p.loMu.Unlock()
	return len(p.lo) == 0
}

// --- backfill pipeline ---

// EnqueueBackfillItem records an item not resident in cache, to be fetched
// by the background dispatcher (spec §4.E "Backfill pipeline"). Returns
// dcp.ErrTmpFail if the shared BackfillAdmission is exhausted - the
// visitor should pause and retry rather than surface an error.
func (p *Producer) EnqueueBackfillItem(key string, diskID uint64, vb dcp.VBucketID, vbVersion uint64) error {
	if p.disconnect.Load() {
		return dcp.ErrDisconnect
	}
	if !p.admission.TryAcquire() {
		return dcp.ErrTmpFail
	}
	p.diskBackfillCounter.Add(1)
	p.streamMu.Lock()
	if s, ok := p.streams[vb]; ok {
		s.state = StreamPendingBackfill
	}
	p.streamMu.Unlock()
	p.bfQueueMu.Lock()
	p.bfQueue = append(p.bfQueue, backfillQueueItem{Key: key, DiskID: diskID, VBucketID: vb, VBVersion: vbVersion})
	p.bfQueueMu.Unlock()
	return nil
}

// DispatchBackfills fetches up to bgMaxPending queued items via fetcher,
// depositing results into backfilledItems. It is meant to be driven by a
// TaskScheduler task on the dispatcher pool (spec §4.E), and never blocks
// beyond its own fetch calls.
func (p *Producer) DispatchBackfills(ctx context.Context) {
	for {
		p.bfQueueMu.Lock()
		if len(p.bfQueue) == 0 {
			p.bfQueueMu.Unlock()
			return
		}
		item := p.bfQueue[0]
		p.bfQueue = p.bfQueue[1:]
		p.bfQueueMu.Unlock()

		if !p.bgFetchSem.AcquireWithTimeout(0) {
			// at bgMaxPending concurrent fetches; requeue and stop for now
			p.bfQueueMu.Lock()
			p.bfQueue = append([]backfillQueueItem{item}, p.bfQueue...)
			p.bfQueueMu.Unlock()
			return
		}

		go func(it backfillQueueItem) {
			defer p.bgFetchSem.Release()
			defer p.completeBackfillItem(it.VBucketID)

			fetched, err := p.fetcher.Fetch(ctx, it.Key, it.VBucketID, it.VBVersion)
			if err != nil {
				err = errors.Wrapf(err, "background fetch of key %q vb %d", it.Key, it.VBucketID)
				if p.logger != nil {
					p.logger.Warnf("%s: %v", p.name, err)
				}
				return
			}
			p.bfResultMu.Lock()
			wasEmpty := len(p.bfResults) == 0
			p.bfResults = append(p.bfResults, dcp.QueuedItem{Key: fetched.Key, VBucketID: it.VBucketID, Op: dcp.OpMutation, Cas: fetched.Cas, Value: fetched.Value})
			p.bfResultMu.Unlock()
			if wasEmpty && p.paused.Load() {
				p.NotifyPaused(false)
			}
		}(item)
	}
}

func (p *Producer) completeBackfillItem(vb dcp.VBucketID) {
	p.admission.Release()
	if p.diskBackfillCounter.Add(-1) == 0 {
		p.streamMu.Lock()
		if s, ok := p.streams[vb]; ok && s.state == StreamPendingBackfill {
			s.state = StreamInMemory
		}
		p.streamMu.Unlock()
		p.metrics.IncBackfillsRun()
	}
}

func (p *Producer) popBFResult() (dcp.QueuedItem, bool) {
	p.bfResultMu.Lock()
	defer p.bfResultMu.Unlock()
	if len(p.bfResults) == 0 {
		return dcp.QueuedItem{}, false
	}
	item := p.bfResults[0]
	p.bfResults = p.bfResults[1:]
	return item, true
}

func (p *Producer) backfillPending() bool {
	return p.diskBackfillCounter.Load() > 0
}

// --- stream lifecycle ---

// CloseStream tears down the stream for vb, queuing a stream-end event
// (low priority, so any already-queued data for vb drains first) and
// marking it closed in the state machine.
func (p *Producer) CloseStream(vb dcp.VBucketID, reason string) {
	p.streamMu.Lock()
	s, ok := p.streams[vb]
	if !ok {
		s = &streamEntry{}
		p.streams[vb] = s
	}
	s.state = StreamClosed
	p.streamMu.Unlock()

	wasEmpty := p.pushLo(dcp.VBucketEvent{Kind: dcp.EventStreamEnd, VBucketID: vb})
	if wasEmpty {
		p.NotifyPaused(false)
	}
	if p.logger != nil {
		p.logger.Infof("%s: closing stream for vb %d: %s", p.name, vb, reason)
	}
}

// CloseAllStreams closes every stream this producer currently holds and
// requests disconnect teardown (spec §4.G "closeStreams").
func (p *Producer) CloseAllStreams() {
	for _, vb := range p.filter.VBuckets() {
		p.CloseStream(vb, "closing all streams")
	}
	p.SetDisconnect()
}

// CloseStreamDueToVBStateChange closes the stream for vb when its vbucket
// is no longer active (spec §4.G "vbucketStateChanged").
func (p *Producer) CloseStreamDueToVBStateChange(vb dcp.VBucketID, state dcp.VBucketState) {
	if state != dcp.VBStateActive {
		p.CloseStream(vb, "vbucket state changed to "+state.String())
	}
}

// CloseStreamDueToRollback closes the stream for vb (spec §4.G
// "closeStreamsDueToRollback").
func (p *Producer) CloseStreamDueToRollback(vb dcp.VBucketID) {
	p.CloseStream(vb, "rollback")
}

// HandleSlowStream applies a conservative corrective action to the named
// stream: if it is mid-backfill it is left alone (spec §9 Open Question);
// otherwise its in-memory backlog for vb is dropped from the live queue.
func (p *Producer) HandleSlowStream(vb dcp.VBucketID, streamName string) bool {
	p.streamMu.Lock()
	s, ok := p.streams[vb]
	p.streamMu.Unlock()
	if !ok || s.state == StreamPendingBackfill {
		return false
	}

	var kept []dcp.QueuedItem
	trimmed := false
	for {
		item, _, ok := p.queue.Pop(nil)
		if !ok {
			break
		}
		if item.VBucketID == vb {
			trimmed = true
			continue
		}
		kept = append(kept, item)
	}
	if len(kept) > 0 {
		p.queue.Append(kept)
	}
	return trimmed
}

// complete reports whether this producer is a one-shot (dumpMode) stream
// that has fully drained: nothing left in any queue and no backfill in
// flight (spec §4.E step() case 5).
func (p *Producer) complete() bool {
	if !p.cfg.DumpMode {
		return false
	}
	return p.queue.Empty() && p.hiEmpty() && p.loEmpty() && !p.backfillPending()
}

// --- notification ---

// NotifySeqnoAvailable wakes the producer if it is paused and vb passes
// its filter (spec §4.E). Called on the hot notifyVBConnections path, so
// it must not block.
func (p *Producer) NotifySeqnoAvailable(vb dcp.VBucketID, seqno uint64) {
	if !p.filter.Admits(vb) {
		return
	}
	if p.paused.Load() {
		p.NotifyPaused(false)
	}
}

// --- step ---

// Step produces the next wire event, per spec §4.E's priority ordering:
//  1. a pending high-priority vbucket event whose vb passes the filter
//  2. a background-fetched item ready in backfilledItems
//  3. the head of EventQueue, passing the filter
//  4. a pending low-priority vbucket event passing the filter
//  5. if complete(): stream-end, then mark disconnect
//  6. otherwise "nothing to send"; paused = true
//
// Steps 2-4 require the ack window not be full; if it is, Step returns
// StepWait instead of consuming anything.
//
// SetDisconnect is a soft request, not an immediate stop (spec §5): Step
// keeps draining the normal priority chain - including any stream-end
// CloseAllStreams already queued - until every queue is empty, so
// already-admitted events are never silently dropped. Only admission of
// new work (Enqueue, PushHighPriority, PushLowPriority,
// EnqueueBackfillItem) is refused once disconnect is set; ManageConnections
// reaps the channel once it has drained.
func (p *Producer) Step() StepOutput {
	pass := queue.Admitter(p.filter.Admits)

	if e, ok := p.popHi(pass); ok {
		return p.emitVBEvent(e, true)
	}

	if p.ackLog.IsFull() {
		return StepOutput{Kind: StepWait}
	}

	if item, ok := p.popBFResult(); ok {
		return p.emitItem(item)
	}

	if item, _, ok := p.queue.Pop(pass); ok {
		return p.emitItem(item)
	}

	if e, ok := p.popLo(pass); ok {
		return p.emitVBEvent(e, false)
	}

	if p.complete() {
		p.SetDisconnect()
		return p.emitVBEvent(dcp.VBucketEvent{Kind: dcp.EventStreamEnd}, false)
	}

	p.paused.Store(true)
	return StepOutput{Kind: StepNothing}
}

func (p *Producer) emitItem(item dcp.QueuedItem) StepOutput {
	seqno := p.seqno.Add(1)
	ackRequested := p.requestAck(false)
	if p.cfg.AckEnabled {
		_ = p.ackLog.Record(acklog.Element{Seqno: seqno, Item: &item})
	}

	item = p.maybeCompress(item)
	p.metrics.SampleItemBytes(wire.MutationSize(wire.MutationParams{
		KeySize:      len(item.Key),
		Value:        item.Value,
		IncludeValue: len(item.Value) > 0,
		Deletion:     item.Op == dcp.OpDeletion,
	}))
	p.metrics.IncItemsSent()
	return StepOutput{Kind: StepEvent, Item: &item, Seqno: seqno, AckRequested: ackRequested}
}

// maybeCompress snappy-encodes item's value when the channel's negotiated
// min_compression_ratio (spec §6.3) says it's worth it, per SPEC_FULL.md
// §10's "DCP value compression" supplement. A no-op when CompressionRatio
// isn't configured or the item carries no value.
func (p *Producer) maybeCompress(item dcp.QueuedItem) dcp.QueuedItem {
	if p.cfg.CompressionRatio == nil || len(item.Value) == 0 || item.Compressed {
		return item
	}
	if use, compressed := wire.ShouldSendCompressed(item.Value, p.cfg.CompressionRatio()); use {
		item.Value = compressed
		item.Compressed = true
	}
	return item
}

func (p *Producer) emitVBEvent(e dcp.VBucketEvent, highPriority bool) StepOutput {
	seqno := p.seqno.Add(1)
	force := e.Kind == dcp.EventStreamEnd || e.Kind == dcp.EventSetVBucketState
	ackRequested := p.requestAck(force)
	if p.cfg.AckEnabled {
		_ = p.ackLog.Record(acklog.Element{Seqno: seqno, VBEvent: &e, HighPriority: highPriority})
	}
	return StepOutput{Kind: StepEvent, VBEvent: &e, Seqno: seqno, AckRequested: ackRequested}
}

// GracePeriodExceeded reports whether this producer has held unacked
// entries for longer than its configured ack grace period (SPEC_FULL.md
// §10 "Ack log grace period teardown"). ConnRegistry.ManageConnections
// checks this to force-disconnect stuck channels.
func (p *Producer) GracePeriodExceeded() bool {
	if !p.cfg.AckEnabled || p.ackLog.Len() == 0 {
		return false
	}
	last := p.lastAckAt.Load()
	if last == 0 {
		last = p.createdAt.UnixNano()
	}
	return time.Since(time.Unix(0, last)) > p.cfg.AckGracePeriod && p.cfg.AckGracePeriod > 0
}

// SetAckWindowSize live-updates the ack window. No dcp/config key drives
// it; callers invoke it directly.
func (p *Producer) SetAckWindowSize(n int) {
	p.ackLog.SetWindowSize(n)
}

// SetBGMaxPending live-updates the concurrent background-fetch cap
// (dcp/config KeyBGMaxPending), delegating straight to the underlying
// base.Semaphore.
func (p *Producer) SetBGMaxPending(n int) {
	p.bgFetchSem.SetLimit(n)
}

// PushHighPriority queues a high-priority vbucket event (e.g. a
// stream-start / set-vbucket-state notification) ahead of any data. A
// channel already marked for disconnect admits no new events - only
// CloseStream's own stream-end push (issued before SetDisconnect) is
// guaranteed delivery.
func (p *Producer) PushHighPriority(e dcp.VBucketEvent) {
	if p.disconnect.Load() {
		return
	}
	wasEmpty := p.pushHi(e)
	if wasEmpty {
		p.NotifyPaused(false)
	}
}

// PushLowPriority queues a low-priority vbucket event, drained only once
// everything else is. See PushHighPriority re disconnect.
func (p *Producer) PushLowPriority(e dcp.VBucketEvent) {
	if p.disconnect.Load() {
		return
	}
	wasEmpty := p.pushLo(e)
	if wasEmpty {
		p.NotifyPaused(false)
	}
}

// Enqueue pushes a mutation onto the live EventQueue, notifying if the
// queue was empty (spec §4.B). Silently drops anything offered once the
// channel is marked for disconnect - Step still drains whatever was
// admitted before that point.
func (p *Producer) Enqueue(item dcp.QueuedItem) {
	if p.disconnect.Load() || !p.filter.Admits(item.VBucketID) {
		return
	}
	if p.queue.Push(item) && p.paused.Load() {
		p.NotifyPaused(false)
	}
}
