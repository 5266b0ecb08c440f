// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package connmap implements ConnRegistry (spec §4.G): the process-wide
// directory of open producer/consumer channels, their per-vbucket index,
// and the reap/notify machinery that keeps lock ordering acyclic.
//
// Grounded on DcpConnMap in
// _examples/original_source/engines/ep/src/dcp/dcpconnmap.cc: the split
// between connsLock (name/cookie maps), a sharded per-vbucket lock
// (vbConnLockNum shards) and a separate releaseLock guarding
// deadConnections is carried over verbatim in shape, generalized from a
// single monolithic connection type to the dcp.Channel interface. The
// maps and the per-vb index hold dcp.Channel values; the concrete
// *producer.Producer and *consumer.Consumer types appear where an
// operation applies to one kind only (opening, notifying, passive streams,
// config broadcasts).
package connmap

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/couchbase/dcpconnmgr/dcp"
	"github.com/couchbase/dcpconnmgr/dcp/admission"
	"github.com/couchbase/dcpconnmgr/dcp/config"
	"github.com/couchbase/dcpconnmgr/dcp/consumer"
	"github.com/couchbase/dcpconnmgr/dcp/filter"
	"github.com/couchbase/dcpconnmgr/dcp/producer"
	"github.com/couchbase/dcpconnmgr/dcp/stats"
	"github.com/couchbase/dcpconnmgr/log"
)

// vbConnLockNum shards the per-vbucket connection index, mirroring
// DcpConnMap's own sharded vbConnLocks - large enough that
// NotifyVBConnections rarely contends with indexing/deindexing on an
// unrelated vbucket.
const vbConnLockNum = 32

type vbShard struct {
	mu    sync.Mutex
	conns map[dcp.VBucketID]map[dcp.Cookie]dcp.Channel
}

// vbucketHolder is implemented by *producer.Producer and *consumer.Consumer;
// kept private since only this package needs it for per-vb (de)indexing.
type vbucketHolder interface {
	VBuckets() []dcp.VBucketID
}

// ConnRegistry is the process-wide connection directory (spec §4.G).
type ConnRegistry struct {
	logger *log.CommonLogger

	connsLock   sync.RWMutex
	connsByCookie map[dcp.Cookie]dcp.Channel
	connsByName   map[string]dcp.Channel

	vbConns [vbConnLockNum]vbShard

	releaseLock     sync.Mutex
	deadConnections []dcp.Channel

	admission *admission.BackfillAdmission
	watcher   *config.Watcher
	process   *stats.ProcessStats

	minCompressionRatioBits atomic.Uint64
	anonCounter             atomic.Uint64
}

// New constructs an empty ConnRegistry, wiring its config listeners for
// admission recompute, min-compression-ratio and consumer batch/yield
// tunables (spec §6.3), and attaching them to store if non-nil.
func New(logger *log.CommonLogger, store dcp.ConfigStore) (*ConnRegistry, error) {
	r := &ConnRegistry{
		logger:        logger,
		connsByCookie: make(map[dcp.Cookie]dcp.Channel),
		connsByName:   make(map[string]dcp.Channel),
		admission:     admission.New(logger),
		watcher:       config.New(),
		process:       stats.NewProcessStats(),
	}
	for i := range r.vbConns {
		r.vbConns[i].conns = make(map[dcp.VBucketID]map[dcp.Cookie]dcp.Channel)
	}
	r.minCompressionRatioBits.Store(math.Float64bits(0))

	r.watcher.OnChange(config.KeyMaxDataSize, func(v interface{}) {
		if n, ok := toUint64(v); ok {
			r.admission.UpdateMaxFromDataSize(n)
		}
	})
	r.watcher.OnChange(config.KeyMinCompressionRatio, func(v interface{}) {
		if f, ok := toFloat64(v); ok {
			r.minCompressionRatioBits.Store(math.Float64bits(f))
		}
	})
	r.watcher.OnChange(config.KeyConsumerYieldLimit, func(v interface{}) {
		if n, ok := toInt(v); ok {
			r.forEachConsumer(func(c *consumer.Consumer) { c.SetProcessorYieldThreshold(n) })
		}
	})
	r.watcher.OnChange(config.KeyConsumerBatchSize, func(v interface{}) {
		if n, ok := toInt(v); ok {
			r.forEachConsumer(func(c *consumer.Consumer) { c.SetProcessBufferedMessagesBatchSize(n) })
		}
	})
	r.watcher.OnChange(config.KeyBGMaxPending, func(v interface{}) {
		if n, ok := toInt(v); ok {
			r.forEachProducer(func(p *producer.Producer) { p.SetBGMaxPending(n) })
		}
	})

	if store != nil {
		if err := r.watcher.Attach(store); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MinCompressionRatio returns the currently negotiated
// min_compression_ratio tunable (spec §6.3), read by producers deciding
// whether to send a mutation snappy-compressed (dcp/wire.ShouldSendCompressed).
func (r *ConnRegistry) MinCompressionRatio() float64 {
	return math.Float64frombits(r.minCompressionRatioBits.Load())
}

// NextAnonymousName mints a channel name for callers that did not supply
// one, in the original engine's "eq_tapq:anon_N" form (spec §10,
// grounded on TapConnection::getAnonName / nextTapId).
func (r *ConnRegistry) NextAnonymousName() string {
	return fmt.Sprintf("eq_tapq:anon_%d", r.anonCounter.Add(1))
}

// --- open ---

// OpenProducer opens a producer channel for cookie/name (spec §4.G
// "newProducer"). A duplicate cookie marks the existing channel for
// disconnect and fails the open with dcp.ErrDisconnect - the front end is
// expected to retry once the old channel has been reaped. A duplicate
// name (different cookie) marks the old channel for disconnect but still
// opens the new one, matching a client reconnecting under the same logical
// name from a new connection.
func (r *ConnRegistry) OpenProducer(
	cookie dcp.Cookie,
	name string,
	vbFilter *filter.VBucketFilter,
	fetcher dcp.ItemFetcher,
	notify dcp.NotifyIOComplete,
	cfg producer.Config,
) (*producer.Producer, error) {
	if name == "" {
		name = r.NextAnonymousName()
	}

	r.connsLock.Lock()
	if existing, ok := r.connsByCookie[cookie]; ok {
		existing.SetDisconnect()
		r.connsLock.Unlock()
		return nil, dcp.ErrDisconnect
	}
	if existing, ok := r.connsByName[name]; ok {
		existing.SetDisconnect()
	}

	if cfg.CompressionRatio == nil {
		cfg.CompressionRatio = r.MinCompressionRatio
	}
	p := producer.New(cookie, name, vbFilter, r.admission, fetcher, notify, r.logger, cfg)
	r.connsByCookie[cookie] = p
	r.connsByName[name] = p
	r.connsLock.Unlock()

	r.indexVBuckets(p, p.VBuckets())
	return p, nil
}

// OpenConsumer opens a consumer channel for cookie/name (spec §4.G
// "newConsumer"), with the same duplicate-cookie/duplicate-name semantics
// as OpenProducer.
func (r *ConnRegistry) OpenConsumer(
	cookie dcp.Cookie,
	name string,
	sink consumer.Sink,
	notify dcp.NotifyIOComplete,
) (*consumer.Consumer, error) {
	if name == "" {
		name = r.NextAnonymousName()
	}

	r.connsLock.Lock()
	if existing, ok := r.connsByCookie[cookie]; ok {
		existing.SetDisconnect()
		r.connsLock.Unlock()
		return nil, dcp.ErrDisconnect
	}
	if existing, ok := r.connsByName[name]; ok {
		existing.SetDisconnect()
	}

	c := consumer.New(cookie, name, sink, notify, r.logger)
	r.connsByCookie[cookie] = c
	r.connsByName[name] = c
	r.connsLock.Unlock()

	return c, nil
}

// --- passive streams ---

// isPassiveStreamConnected reports whether any consumer already has vb
// open (spec §4.G, grounded on isPassiveStreamConnected_UNLOCKED), walking
// every consumer under connsLock's read side. This is O(consumers) rather
// than the per-vb-indexed O(1) a dedicated reverse map would give, which
// matches the original's own linear scan; consumer counts are small
// enough in practice that this has never needed to change.
func (r *ConnRegistry) isPassiveStreamConnected(vb dcp.VBucketID) bool {
	r.connsLock.RLock()
	defer r.connsLock.RUnlock()
	for _, ch := range r.connsByCookie {
		if c, ok := ch.(*consumer.Consumer); ok && c.IsPassiveStreamConnected(vb) {
			return true
		}
	}
	return false
}

// AddPassiveStream opens a passive stream for vb on the consumer
// identified by cookie (spec §4.G "addPassiveStream"), returning
// dcp.ErrKeyExists if any consumer already has vb open.
func (r *ConnRegistry) AddPassiveStream(cookie dcp.Cookie, opaque uint32, vb dcp.VBucketID, flags uint32) error {
	r.connsLock.RLock()
	ch, ok := r.connsByCookie[cookie]
	r.connsLock.RUnlock()
	if !ok {
		return dcp.ErrNoSuchChannel
	}
	c, ok := ch.(*consumer.Consumer)
	if !ok {
		return dcp.ErrNoSuchChannel
	}

	if r.isPassiveStreamConnected(vb) {
		return dcp.ErrKeyExists
	}
	if err := c.AddPassiveStream(opaque, vb, flags); err != nil {
		return err
	}
	r.indexVBuckets(c, []dcp.VBucketID{vb})
	return nil
}

// --- per-vbucket index ---

func (r *ConnRegistry) shard(vb dcp.VBucketID) *vbShard {
	return &r.vbConns[int(vb)%vbConnLockNum]
}

func (r *ConnRegistry) indexVBuckets(ch dcp.Channel, vbs []dcp.VBucketID) {
	for _, vb := range vbs {
		s := r.shard(vb)
		s.mu.Lock()
		if s.conns[vb] == nil {
			s.conns[vb] = make(map[dcp.Cookie]dcp.Channel)
		}
		s.conns[vb][ch.Cookie()] = ch
		s.mu.Unlock()
	}
}

func (r *ConnRegistry) deindexVBuckets(ch dcp.Channel, vbs []dcp.VBucketID) {
	for _, vb := range vbs {
		s := r.shard(vb)
		s.mu.Lock()
		if m, ok := s.conns[vb]; ok {
			delete(m, ch.Cookie())
			if len(m) == 0 {
				delete(s.conns, vb)
			}
		}
		s.mu.Unlock()
	}
}

// removeVBConnections deindexes every vbucket ch currently holds (spec
// §4.G "removeVBConnections"), called once a channel has been reaped.
func (r *ConnRegistry) removeVBConnections(ch dcp.Channel) {
	holder, ok := ch.(vbucketHolder)
	if !ok {
		return
	}
	r.deindexVBuckets(ch, holder.VBuckets())
}

// NotifyVBConnections wakes every producer with an open stream on vb
// (spec §4.G "notifyVBConnections"). It takes only vb's shard lock, never
// connsLock, so a hot mutation path never contends with channel open/close
// traffic on unrelated vbuckets.
func (r *ConnRegistry) NotifyVBConnections(vb dcp.VBucketID, seqno uint64) {
	s := r.shard(vb)
	s.mu.Lock()
	conns := make([]dcp.Channel, 0, len(s.conns[vb]))
	for _, c := range s.conns[vb] {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ch := range conns {
		if p, ok := ch.(*producer.Producer); ok {
			p.NotifySeqnoAvailable(vb, seqno)
		}
	}
}

// --- vbucket state / rollback ---

// VBucketStateChanged closes any producer stream on vb whose state is no
// longer active (spec §4.G "vbucketStateChanged").
func (r *ConnRegistry) VBucketStateChanged(vb dcp.VBucketID, state dcp.VBucketState) {
	s := r.shard(vb)
	s.mu.Lock()
	conns := make([]dcp.Channel, 0, len(s.conns[vb]))
	for _, c := range s.conns[vb] {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ch := range conns {
		if p, ok := ch.(*producer.Producer); ok {
			p.CloseStreamDueToVBStateChange(vb, state)
		}
	}
}

// CloseStreamsDueToRollback closes every producer stream on vb (spec §4.G
// "closeStreamsDueToRollback").
func (r *ConnRegistry) CloseStreamsDueToRollback(vb dcp.VBucketID) {
	s := r.shard(vb)
	s.mu.Lock()
	conns := make([]dcp.Channel, 0, len(s.conns[vb]))
	for _, c := range s.conns[vb] {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ch := range conns {
		if p, ok := ch.(*producer.Producer); ok {
			p.CloseStreamDueToRollback(vb)
		}
	}
}

// --- disconnect / reap ---

// Disconnect removes cookie's channel from the name/cookie maps under
// connsLock, then closes its streams and pushes it to deadConnections -
// both done outside connsLock, matching the original's two-phase teardown
// so CloseAllStreams (which can call out to the host through
// NotifyIOComplete) never runs while connsLock is held (spec §4.G
// "disconnect").
func (r *ConnRegistry) Disconnect(cookie dcp.Cookie) error {
	r.connsLock.Lock()
	ch, ok := r.connsByCookie[cookie]
	if !ok {
		r.connsLock.Unlock()
		return dcp.ErrNoSuchChannel
	}
	delete(r.connsByCookie, cookie)
	delete(r.connsByName, ch.Name())
	r.connsLock.Unlock()

	ch.SetConnected(false)
	ch.CloseAllStreams()

	r.releaseLock.Lock()
	r.deadConnections = append(r.deadConnections, ch)
	r.releaseLock.Unlock()
	return nil
}

// ManageConnections runs the registry's periodic maintenance pass (spec
// §4.G "manageConnections"): reap channels queued by Disconnect, wake
// (NotifyPaused) every open, reserved channel that is paused or marked for
// disconnect, and force-disconnect any producer that has exceeded its ack
// grace period (SPEC_FULL.md §10 "Ack log grace period teardown").
func (r *ConnRegistry) ManageConnections() {
	r.releaseLock.Lock()
	dead := r.deadConnections
	r.deadConnections = nil
	r.releaseLock.Unlock()

	for _, ch := range dead {
		ch.ReleaseReference()
		r.removeVBConnections(ch)
	}
	r.process.SetDeadConnCount(len(dead))

	r.connsLock.RLock()
	stuck := make([]dcp.Cookie, 0)
	wake := make([]dcp.Channel, 0)
	for cookie, ch := range r.connsByCookie {
		if p, ok := ch.(*producer.Producer); ok && p.GracePeriodExceeded() {
			stuck = append(stuck, cookie)
		}
		if ch.IsReserved() && (ch.IsPaused() || ch.DoDisconnect()) {
			wake = append(wake, ch)
		}
	}
	r.connsLock.RUnlock()

	for _, ch := range wake {
		ch.NotifyPaused(true)
	}

	for _, cookie := range stuck {
		if r.logger != nil {
			r.logger.Warnf("disconnecting channel %v: ack grace period exceeded", cookie)
		}
		_ = r.Disconnect(cookie)
	}
}

// ShutdownAllConnections tears down every open channel (spec §4.G
// "shutdownAllConnections"), used on process shutdown.
func (r *ConnRegistry) ShutdownAllConnections() {
	r.connsLock.Lock()
	all := make([]dcp.Channel, 0, len(r.connsByCookie))
	for _, ch := range r.connsByCookie {
		all = append(all, ch)
	}
	r.connsByCookie = make(map[dcp.Cookie]dcp.Channel)
	r.connsByName = make(map[string]dcp.Channel)
	r.connsLock.Unlock()

	for _, ch := range all {
		ch.SetDisconnect()
		ch.SetConnected(false)
		ch.CloseAllStreams()
		ch.NotifyPaused(false)
		r.removeVBConnections(ch)
	}
}

// HandleSlowStream applies backpressure relief to the named producer's
// stream on vb (spec §4.G "handleSlowStream"). The producer is looked up
// by name through FindByName, under connsLock's read side; no vb shard
// lock is taken, and producers registered under other names are not
// consulted even when they also stream vb.
func (r *ConnRegistry) HandleSlowStream(name string, vb dcp.VBucketID) bool {
	ch, ok := r.FindByName(name)
	if !ok {
		return false
	}
	p, ok := ch.(*producer.Producer)
	if !ok {
		return false
	}
	return p.HandleSlowStream(vb, name)
}

// FindByName looks up a channel by its logical name (spec §4.G
// "findByName").
func (r *ConnRegistry) FindByName(name string) (dcp.Channel, bool) {
	r.connsLock.RLock()
	defer r.connsLock.RUnlock()
	ch, ok := r.connsByName[name]
	return ch, ok
}

// AddStats fans out to every open channel's AddStats plus the process-wide
// counters (spec §4.G, §4.I).
func (r *ConnRegistry) AddStats(sink dcp.StatsSink) {
	r.connsLock.RLock()
	all := make([]dcp.Channel, 0, len(r.connsByCookie))
	for _, ch := range r.connsByCookie {
		all = append(all, ch)
	}
	r.connsLock.RUnlock()

	for _, ch := range all {
		ch.AddStats(sink)
	}
	r.process.AddStats(sink)
}

func (r *ConnRegistry) forEachConsumer(fn func(*consumer.Consumer)) {
	r.connsLock.RLock()
	defer r.connsLock.RUnlock()
	for _, ch := range r.connsByCookie {
		if c, ok := ch.(*consumer.Consumer); ok {
			fn(c)
		}
	}
}

func (r *ConnRegistry) forEachProducer(fn func(*producer.Producer)) {
	r.connsLock.RLock()
	defer r.connsLock.RUnlock()
	for _, ch := range r.connsByCookie {
		if p, ok := ch.(*producer.Producer); ok {
			fn(p)
		}
	}
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case float64:
		return uint64(n), true
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
