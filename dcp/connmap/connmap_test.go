package connmap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/dcpconnmgr/dcp"
	"github.com/couchbase/dcpconnmgr/dcp/config"
	"github.com/couchbase/dcpconnmgr/dcp/consumer"
	"github.com/couchbase/dcpconnmgr/dcp/filter"
	"github.com/couchbase/dcpconnmgr/dcp/producer"
)

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, key string, vb dcp.VBucketID, vbVersion uint64) (dcp.Item, error) {
	return dcp.Item{Key: key}, nil
}

type fakeSink struct{}

func (fakeSink) ApplyMutation(ctx context.Context, item dcp.QueuedItem) error       { return nil }
func (fakeSink) ApplyVBucketEvent(ctx context.Context, event dcp.VBucketEvent) error { return nil }

func newRegistry(t *testing.T) *ConnRegistry {
	t.Helper()
	r, err := New(nil, nil)
	require.NoError(t, err)
	return r
}

// S1: opening a producer twice with the same cookie marks the first as
// disconnecting and fails the second open.
func TestOpenProducerDuplicateCookieMarksExistingDisconnect(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)

	p1, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)
	require.False(t, p1.DoDisconnect())

	p2, err := r.OpenProducer("cookie1", "p2", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.Nil(t, p2)
	require.ErrorIs(t, err, dcp.ErrDisconnect)
	require.True(t, p1.DoDisconnect())
}

// S2: opening a producer with a name already in use marks the old
// channel disconnecting but still succeeds in opening the new one.
func TestOpenProducerDuplicateNameMarksOldDisconnectsButOpensNew(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)

	p1, err := r.OpenProducer("cookie1", "shared-name", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)

	p2, err := r.OpenProducer("cookie2", "shared-name", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)
	require.NotNil(t, p2)

	require.True(t, p1.DoDisconnect())
	require.False(t, p2.DoDisconnect())

	found, ok := r.FindByName("shared-name")
	require.True(t, ok)
	require.Same(t, p2, found)
}

// S3: a second passive stream request for a vbucket already claimed by
// another consumer fails with ErrKeyExists.
func TestAddPassiveStreamUniquePerVBucketAcrossConsumers(t *testing.T) {
	r := newRegistry(t)
	c1, err := r.OpenConsumer("cookie1", "c1", fakeSink{}, nil)
	require.NoError(t, err)
	c2, err := r.OpenConsumer("cookie2", "c2", fakeSink{}, nil)
	require.NoError(t, err)

	require.NoError(t, r.AddPassiveStream("cookie1", 1, 0, 0))
	err = r.AddPassiveStream("cookie2", 2, 0, 0)
	require.ErrorIs(t, err, dcp.ErrKeyExists)

	require.True(t, c1.IsPassiveStreamConnected(0))
	require.False(t, c2.IsPassiveStreamConnected(0))
}

// S4: NotifyVBConnections only takes the target vbucket's shard lock, so
// it can run concurrently with an unrelated vbucket's open/close traffic
// without deadlocking or racing (run with -race to be meaningful).
func TestNotifyVBConnectionsConcurrentWithUnrelatedVBucketChurn(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)
	require.NotNil(t, p)

	var notifyWg, churnWg sync.WaitGroup
	stop := make(chan struct{})

	notifyWg.Add(1)
	go func() {
		defer notifyWg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				r.NotifyVBConnections(0, uint64(i))
			}
		}
	}()

	churnWg.Add(1)
	go func() {
		defer churnWg.Done()
		for i := 0; i < 200; i++ {
			vb2Filter := filter.New(dcp.VBucketID(i%64 + 1))
			cookie := i
			_, _ = r.OpenProducer(cookie, "", vb2Filter, fakeFetcher{}, nil, producer.Config{})
		}
	}()

	churnWg.Wait()
	close(stop)
	notifyWg.Wait()
}

// S5: BackfillAdmission's shared cap is exercised through two producers
// competing for backfill slots.
func TestSharedAdmissionCapsAcrossProducers(t *testing.T) {
	r := newRegistry(t)
	r.admission.UpdateMaxFromDataSize(0) // clamps to minMax = 1

	vbFilter := filter.New(0)
	p1, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)
	p2, err := r.OpenProducer("cookie2", "p2", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)

	require.NoError(t, p1.EnqueueBackfillItem("k", 1, 0, 0))
	err = p2.EnqueueBackfillItem("k2", 2, 0, 0)
	require.ErrorIs(t, err, dcp.ErrTmpFail)
}

// S6: Disconnect never reaps synchronously - the channel only leaves
// connsByCookie/connsByName immediately, and only its vbucket index
// entries are removed once ManageConnections runs, with no lock held
// across CloseAllStreams.
func TestDisconnectThenManageConnectionsReapsWithoutLockCycle(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)

	require.NoError(t, r.Disconnect("cookie1"))
	_, ok := r.FindByName("p1")
	require.False(t, ok)
	require.True(t, p.DoDisconnect())
	require.False(t, p.IsConnected())

	s := r.shard(0)
	s.mu.Lock()
	_, stillIndexed := s.conns[0][p.Cookie()]
	s.mu.Unlock()
	require.True(t, stillIndexed, "vbucket index entries survive until ManageConnections reaps")

	r.ManageConnections()

	s.mu.Lock()
	_, stillIndexed = s.conns[0][p.Cookie()]
	s.mu.Unlock()
	require.False(t, stillIndexed)
	require.False(t, p.IsReserved())
}

func TestDisconnectUnknownCookie(t *testing.T) {
	r := newRegistry(t)
	require.ErrorIs(t, r.Disconnect("nope"), dcp.ErrNoSuchChannel)
}

func TestShutdownAllConnectionsClosesEveryChannel(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)
	c, err := r.OpenConsumer("cookie2", "c1", fakeSink{}, nil)
	require.NoError(t, err)

	r.ShutdownAllConnections()

	require.True(t, p.DoDisconnect())
	require.True(t, c.DoDisconnect())
	_, ok := r.FindByName("p1")
	require.False(t, ok)
}

func TestVBucketStateChangedClosesProducerStreamWhenNotActive(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)

	r.VBucketStateChanged(0, dcp.VBStateDead)

	out := p.Step()
	require.Equal(t, producer.StepEvent, out.Kind)
	require.Equal(t, dcp.EventStreamEnd, out.VBEvent.Kind)
}

func TestHandleSlowStreamDelegatesToNamedProducer(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0, 1)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)
	p.Enqueue(dcp.QueuedItem{Key: "k0", VBucketID: 0})

	require.True(t, r.HandleSlowStream("p1", 0))
}

func TestNextAnonymousNameIsUniqueAndFollowsConvention(t *testing.T) {
	r := newRegistry(t)
	a := r.NextAnonymousName()
	b := r.NextAnonymousName()
	require.NotEqual(t, a, b)
	require.Regexp(t, `^eq_tapq:anon_\d+$`, a)
}

func TestConfigChangeRecomputesAdmissionMax(t *testing.T) {
	r := newRegistry(t)
	r.watcher.Notify(config.KeyMaxDataSize, uint64(1<<30))
	require.Equal(t, 1048, r.admission.Max())
}

func TestConfigChangeUpdatesMinCompressionRatio(t *testing.T) {
	r := newRegistry(t)
	r.watcher.Notify(config.KeyMinCompressionRatio, 0.5)
	require.InDelta(t, 0.5, r.MinCompressionRatio(), 0.0001)
}

// OpenProducer wires the registry's live min_compression_ratio into every
// producer it opens, so a compressible value sent on a channel opened after
// the ratio is negotiated goes out snappy-compressed (spec §6.3, §10).
func TestOpenProducerWiresMinCompressionRatioIntoEmittedItems(t *testing.T) {
	r := newRegistry(t)
	r.watcher.Notify(config.KeyMinCompressionRatio, 0.5)

	vbFilter := filter.New(0)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{})
	require.NoError(t, err)

	compressible := make([]byte, 4096)
	p.Enqueue(dcp.QueuedItem{Key: "k0", VBucketID: 0, Value: compressible})

	out := p.Step()
	require.Equal(t, producer.StepEvent, out.Kind)
	require.True(t, out.Item.Compressed)
	require.Less(t, len(out.Item.Value), len(compressible))
}

func TestConfigChangeBroadcastsConsumerYieldThreshold(t *testing.T) {
	r := newRegistry(t)
	c, err := r.OpenConsumer("cookie1", "c1", fakeSink{}, nil)
	require.NoError(t, err)

	r.watcher.Notify(config.KeyConsumerYieldLimit, 42)

	require.Equal(t, 42, c.ProcessorYieldThreshold())
}

func TestManageConnectionsDisconnectsGracePeriodExceededProducers(t *testing.T) {
	r := newRegistry(t)
	vbFilter := filter.New(0)
	p, err := r.OpenProducer("cookie1", "p1", vbFilter, fakeFetcher{}, nil, producer.Config{
		AckEnabled:     true,
		AckWindowSize:  8,
		AckInterval:    1,
		AckGracePeriod: time.Nanosecond,
	})
	require.NoError(t, err)

	p.Enqueue(dcp.QueuedItem{Key: "k1", VBucketID: 0})
	p.Step() // records an ack-log entry, starting the grace period clock

	time.Sleep(time.Millisecond)
	r.ManageConnections()

	require.True(t, p.DoDisconnect())
}

var _ consumer.Sink = fakeSink{}
