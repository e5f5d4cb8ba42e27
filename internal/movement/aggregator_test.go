package movement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardwatch/internal/model"
)

type recordSink struct {
	mu        sync.Mutex
	locations []model.LocationSample
	analytics []model.MovementAnalytics
}

func (r *recordSink) LocationUpdated(s model.LocationSample) {
	r.mu.Lock()
	r.locations = append(r.locations, s)
	r.mu.Unlock()
}

func (r *recordSink) AnalyticsReady(a model.MovementAnalytics) {
	r.mu.Lock()
	r.analytics = append(r.analytics, a)
	r.mu.Unlock()
}

func (r *recordSink) analyticsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.analytics)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// metersNorth is the latitude delta for roughly m meters.
func metersNorth(m float64) float64 { return m / 111_194.93 }

func sample(guard string, lat, lng float64, ts time.Time) model.LocationSample {
	return model.LocationSample{GuardID: guard, Latitude: model.Float(lat), Longitude: model.Float(lng), Timestamp: ts}
}

func newTestAggregator(cfg Config) (*Aggregator, *recordSink, *fakeClock) {
	sink := &recordSink{}
	clk := &fakeClock{t: t0}
	a := New(cfg, sink)
	a.SetClock(clk.Now)
	return a, sink, clk
}

func TestFirstSampleSeedsWithoutAnalytics(t *testing.T) {
	a, sink, _ := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	require.Len(t, sink.locations, 1)
	require.Zero(t, sink.analyticsCount())

	snap, ok := a.Snapshot("g1")
	require.True(t, ok)
	require.Zero(t, snap.Distance)
	require.Zero(t, snap.MaxSpeed)
}

func TestSpeedFromTwoSamples(t *testing.T) {
	a, sink, _ := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	require.NoError(t, a.Ingest(sample("g1", 28.6+metersNorth(50), 77.2, t0.Add(10*time.Second))))

	snap, ok := a.Snapshot("g1")
	require.True(t, ok)
	require.InDelta(t, 50, snap.Distance, 0.01)
	require.InDelta(t, 18, snap.MaxSpeed, 0.01)
	require.InDelta(t, 18, snap.AvgSpeed, 0.01)
	require.Equal(t, 10.0, snap.TimeMoving)
	require.Zero(t, snap.TimeStationary)
	// Both samples are relayed live regardless of the analytics cadence.
	require.Len(t, sink.locations, 2)
}

func TestStationaryTime(t *testing.T) {
	a, _, _ := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0.Add(20*time.Second))))
	snap, _ := a.Snapshot("g1")
	require.Equal(t, 20.0, snap.TimeStationary)
	require.Zero(t, snap.TimeMoving)
	require.Zero(t, snap.RouteEfficiency)
}

func TestSpeedHistoryIsCapped(t *testing.T) {
	a, _, _ := newTestAggregator(Config{Window: time.Hour})
	for i := 0; i < 150; i++ {
		require.NoError(t, a.Ingest(sample("g1", 28.6+metersNorth(float64(i)), 77.2, t0.Add(time.Duration(i)*time.Second))))
	}
	a.mu.Lock()
	n := len(a.guards["g1"].speeds)
	a.mu.Unlock()
	require.Equal(t, MaxSpeedSamples, n)
}

func TestInvalidSampleRejected(t *testing.T) {
	a, sink, _ := newTestAggregator(Config{})
	cases := []model.LocationSample{
		{Latitude: model.Float(1), Longitude: model.Float(1), Timestamp: t0},
		{GuardID: "g1", Longitude: model.Float(1), Timestamp: t0},
		{GuardID: "g1", Latitude: model.Float(1), Timestamp: t0},
		{GuardID: "g1", Latitude: model.Float(1), Longitude: model.Float(1)},
		{GuardID: "g1", Latitude: model.Float(91), Longitude: model.Float(1), Timestamp: t0},
	}
	for _, c := range cases {
		err := a.Ingest(c)
		require.True(t, errors.Is(err, ErrInvalidSample), "%+v: %v", c, err)
	}
	require.Empty(t, sink.locations)
	require.Zero(t, a.Len())

	// Equator and prime meridian are valid coordinates.
	require.NoError(t, a.Ingest(sample("g0", 0, 0, t0)))
}

func TestOutOfOrderSampleDropped(t *testing.T) {
	a, sink, _ := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0.Add(time.Minute))))
	err := a.Ingest(sample("g1", 28.7, 77.2, t0))
	require.ErrorIs(t, err, ErrOutOfOrder)
	require.Len(t, sink.locations, 1)

	last, ok := a.Last("g1")
	require.True(t, ok)
	require.Equal(t, t0.Add(time.Minute), last.Timestamp)
}

func TestDuplicateTimestampCountsAsZeroSpeed(t *testing.T) {
	a, _, _ := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	require.NoError(t, a.Ingest(sample("g1", 28.6+metersNorth(10), 77.2, t0)))
	snap, _ := a.Snapshot("g1")
	require.Zero(t, snap.MaxSpeed)
	require.InDelta(t, 10, snap.Distance, 0.01)
}

func TestOpportunisticFlushOncePerWindow(t *testing.T) {
	a, sink, clk := newTestAggregator(Config{})
	ts := t0
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, ts)))

	lat := 28.6
	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Second)
		ts = ts.Add(10 * time.Second)
		lat += metersNorth(50)
		require.NoError(t, a.Ingest(sample("g1", lat, 77.2, ts)))
	}
	// 30s elapsed at the third delta: exactly one emission.
	require.Equal(t, 1, sink.analyticsCount())
	got := sink.analytics[0]
	require.Equal(t, "g1", got.GuardID)
	require.InDelta(t, 150, got.Distance, 0.05)
	require.InDelta(t, 18, got.AvgSpeed, 0.01)
	require.Equal(t, 30.0, got.TimeMoving)
	require.Equal(t, clk.Now(), got.Timestamp)

	// Next window starts at zero.
	snap, _ := a.Snapshot("g1")
	require.Zero(t, snap.Distance)
	require.Zero(t, snap.TimeMoving)

	clk.Advance(5 * time.Second)
	ts = ts.Add(5 * time.Second)
	require.NoError(t, a.Ingest(sample("g1", lat, 77.2, ts)))
	require.Equal(t, 1, sink.analyticsCount())
}

func TestFlushDueEmitsForSilentGuard(t *testing.T) {
	a, sink, clk := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	require.NoError(t, a.Ingest(sample("g1", 28.6+metersNorth(50), 77.2, t0.Add(10*time.Second))))

	clk.Advance(29 * time.Second)
	a.FlushDue(clk.Now())
	require.Zero(t, sink.analyticsCount())

	clk.Advance(time.Second)
	a.FlushDue(clk.Now())
	require.Equal(t, 1, sink.analyticsCount())

	// An empty window emits nothing.
	clk.Advance(31 * time.Second)
	a.FlushDue(clk.Now())
	require.Equal(t, 1, sink.analyticsCount())
}

func TestGuardWithOnlyFirstSampleNeverFlushes(t *testing.T) {
	a, sink, clk := newTestAggregator(Config{})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	clk.Advance(time.Minute)
	a.FlushDue(clk.Now())
	require.Zero(t, sink.analyticsCount())
}

func TestIdleGuardEvictedAfterFinalFlush(t *testing.T) {
	a, sink, clk := newTestAggregator(Config{Window: time.Hour, StateTTL: 10 * time.Minute})
	require.NoError(t, a.Ingest(sample("g1", 28.6, 77.2, t0)))
	require.NoError(t, a.Ingest(sample("g1", 28.6+metersNorth(20), 77.2, t0.Add(10*time.Second))))
	require.NoError(t, a.Ingest(sample("g2", 10, 10, t0)))

	clk.Advance(10 * time.Minute)
	a.FlushDue(clk.Now())
	require.Zero(t, a.Len())
	require.Equal(t, 1, sink.analyticsCount())
	require.Equal(t, "g1", sink.analytics[0].GuardID)

	_, ok := a.Snapshot("g1")
	require.False(t, ok)
}

func TestServeStopsOnCancel(t *testing.T) {
	a, _, _ := newTestAggregator(Config{TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestConcurrentIngestDistinctGuards(t *testing.T) {
	a, sink, _ := newTestAggregator(Config{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := string(rune('a' + g))
			for i := 0; i < 50; i++ {
				_ = a.Ingest(sample(id, 10, 10+metersNorth(float64(i)), t0.Add(time.Duration(i)*time.Second)))
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, 8, a.Len())
	sink.mu.Lock()
	require.Len(t, sink.locations, 400)
	sink.mu.Unlock()
}
