package stats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/dcpconnmgr/dcp"
)

func collect(sink func(dcp.StatsSink)) map[string]interface{} {
	got := make(map[string]interface{})
	sink(func(name string, value interface{}) { got[name] = value })
	return got
}

func TestChannelRegistryCountersAccumulate(t *testing.T) {
	r := NewChannelRegistry("replica1", dcp.ChannelProducer)
	r.IncItemsSent()
	r.IncItemsSent()
	r.IncAcksReceived()

	got := collect(r.AddStats)
	require.EqualValues(t, 2, got["replica1:"+MetricItemsSent])
	require.EqualValues(t, 1, got["replica1:"+MetricAcksReceived])
	require.EqualValues(t, 0, got["replica1:"+MetricDisconnects])
}

func TestChannelRegistryHistogramSamplesSurfaceMeanAndMax(t *testing.T) {
	r := NewChannelRegistry("replica1", dcp.ChannelProducer)
	r.SampleBacklog(10)
	r.SampleBacklog(20)

	got := collect(r.AddStats)
	require.EqualValues(t, 20, got["replica1:"+MetricBacklogSize+":max"])
	require.InDelta(t, 15, got["replica1:"+MetricBacklogSize+":mean"].(float64), 0.001)
}

func TestChannelRegistrySampleItemBytesSurfacesMeanAndMax(t *testing.T) {
	r := NewChannelRegistry("replica1", dcp.ChannelProducer)
	r.SampleItemBytes(55)
	r.SampleItemBytes(105)

	got := collect(r.AddStats)
	require.EqualValues(t, 105, got["replica1:"+MetricItemBytes+":max"])
	require.InDelta(t, 80, got["replica1:"+MetricItemBytes+":mean"].(float64), 0.001)
}

func TestProcessStatsDeadConnCountIsReplacedNotAccumulated(t *testing.T) {
	p := NewProcessStats()
	p.SetDeadConnCount(3)
	p.SetDeadConnCount(1)

	got := collect(p.AddStats)
	require.EqualValues(t, 1, got[MetricDeadConnCount])
}
