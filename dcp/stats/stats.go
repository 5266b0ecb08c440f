// Copyright 2013-Present Couchbase, Inc.
//
// Use of this software is governed by the Business Source License included in
// the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
// file, in accordance with the Business Source License, use of this software
// will be governed by the Apache License, Version 2.0, included in the file
// licenses/APL2.txt.

// Package stats implements the Stats component (spec §4.I): aggregated
// counters and histograms, surfaced read-only through the host StatsSink.
//
// Grounded on pipeline_svc/statistics_manager.go's use of
// github.com/rcrowley/go-metrics: one metrics.Registry per channel plus a
// process-wide registry, counters for monotonic totals and uniform-sample
// histograms for queue/backlog depth.
package stats

import (
	"fmt"

	"github.com/rcrowley/go-metrics"

	"github.com/couchbase/dcpconnmgr/dcp"
)

const sampleSize = 1028

// Names of the per-channel metrics this package registers.
const (
	MetricDisconnects   = "disconnects"
	MetricBacklogSize   = "backlog_size"
	MetricQueueMemSize  = "queue_mem_size"
	MetricAckLogSize    = "acklog_size"
	MetricBackfillsRun  = "backfills_run"
	MetricAcksReceived  = "acks_received"
	MetricItemsSent     = "items_sent"
	MetricItemBytes     = "item_bytes"
	MetricDeadConnCount = "ep_dcp_dead_conn_count"
)

// ChannelRegistry holds the metrics for a single channel.
type ChannelRegistry struct {
	name        string
	channelType dcp.ChannelType
	registry    metrics.Registry
}

// NewChannelRegistry registers the standard set of per-channel metrics,
// mirroring statistics_manager.go's registerOverallRegistry shape.
func NewChannelRegistry(name string, channelType dcp.ChannelType) *ChannelRegistry {
	r := metrics.NewRegistry()
	r.Register(MetricDisconnects, metrics.NewCounter())
	r.Register(MetricBacklogSize, metrics.NewHistogram(metrics.NewUniformSample(sampleSize)))
	r.Register(MetricQueueMemSize, metrics.NewHistogram(metrics.NewUniformSample(sampleSize)))
	r.Register(MetricAckLogSize, metrics.NewHistogram(metrics.NewUniformSample(sampleSize)))
	r.Register(MetricBackfillsRun, metrics.NewCounter())
	r.Register(MetricAcksReceived, metrics.NewCounter())
	r.Register(MetricItemsSent, metrics.NewCounter())
	r.Register(MetricItemBytes, metrics.NewHistogram(metrics.NewUniformSample(sampleSize)))
	return &ChannelRegistry{name: name, channelType: channelType, registry: r}
}

func (c *ChannelRegistry) IncDisconnects() {
	c.registry.Get(MetricDisconnects).(metrics.Counter).Inc(1)
}

func (c *ChannelRegistry) IncBackfillsRun() {
	c.registry.Get(MetricBackfillsRun).(metrics.Counter).Inc(1)
}

func (c *ChannelRegistry) IncAcksReceived() {
	c.registry.Get(MetricAcksReceived).(metrics.Counter).Inc(1)
}

func (c *ChannelRegistry) IncItemsSent() {
	c.registry.Get(MetricItemsSent).(metrics.Counter).Inc(1)
}

func (c *ChannelRegistry) SampleBacklog(n int) {
	c.registry.Get(MetricBacklogSize).(metrics.Histogram).Sample().Update(int64(n))
}

func (c *ChannelRegistry) SampleQueueMemSize(n int) {
	c.registry.Get(MetricQueueMemSize).(metrics.Histogram).Sample().Update(int64(n))
}

func (c *ChannelRegistry) SampleAckLogSize(n int) {
	c.registry.Get(MetricAckLogSize).(metrics.Histogram).Sample().Update(int64(n))
}

// SampleItemBytes records the wire size (dcp/wire.MutationSize) of a sent
// item, after any compression decision (dcp/wire.ShouldSendCompressed).
func (c *ChannelRegistry) SampleItemBytes(n uint32) {
	c.registry.Get(MetricItemBytes).(metrics.Histogram).Sample().Update(int64(n))
}

// AddStats walks the registry and calls sink once per metric, named with
// the "<channel name>:<metric>" convention TapConnection::addStat uses.
func (c *ChannelRegistry) AddStats(sink dcp.StatsSink) {
	c.registry.Each(func(name string, i interface{}) {
		key := fmt.Sprintf("%s:%s", c.name, name)
		switch m := i.(type) {
		case metrics.Counter:
			sink(key, m.Count())
		case metrics.Histogram:
			sink(key+":mean", m.Mean())
			sink(key+":max", m.Max())
		}
	})
}

// ProcessStats is the process-wide registry (dead-connection count, etc.),
// separate from any one channel's registry.
type ProcessStats struct {
	registry metrics.Registry
}

func NewProcessStats() *ProcessStats {
	r := metrics.NewRegistry()
	r.Register(MetricDeadConnCount, metrics.NewCounter())
	return &ProcessStats{registry: r}
}

func (p *ProcessStats) SetDeadConnCount(n int) {
	counter := p.registry.Get(MetricDeadConnCount).(metrics.Counter)
	counter.Clear()
	counter.Inc(int64(n))
}

func (p *ProcessStats) AddStats(sink dcp.StatsSink) {
	p.registry.Each(func(name string, i interface{}) {
		if c, ok := i.(metrics.Counter); ok {
			sink(name, c.Count())
		}
	})
}
