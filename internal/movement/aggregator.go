// Package movement turns per-guard location streams into windowed movement analytics.
package movement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"guardwatch/internal/kinematics"
	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
	"guardwatch/internal/model"
)

// MaxSpeedSamples caps the per-guard speed history; older samples are evicted first.
const MaxSpeedSamples = 100

var (
	ErrInvalidSample = errors.New("invalid location sample")
	ErrOutOfOrder    = errors.New("location sample older than last known position")
)

// Sink receives what the aggregator produces.
type Sink interface {
	// LocationUpdated is called for every accepted sample.
	LocationUpdated(model.LocationSample)
	// AnalyticsReady is called at most once per window per guard.
	AnalyticsReady(model.MovementAnalytics)
}

// Config tunes the aggregator.
type Config struct {
	Window       time.Duration // analytics window, default 30s
	TickInterval time.Duration // background flush cadence, default 1s
	StateTTL     time.Duration // idle guards are evicted after this, 0 disables
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

type accumulator struct {
	last        model.LocationSample
	distance    float64
	speeds      []float64
	moving      float64
	stationary  float64
	samples     int
	windowStart time.Time
	lastSeen    time.Time
}

func (a *accumulator) reset(now time.Time) {
	a.distance = 0
	a.speeds = a.speeds[:0]
	a.moving = 0
	a.stationary = 0
	a.samples = 0
	a.windowStart = now
}

func (a *accumulator) snapshot(guardID string, now time.Time) model.MovementAnalytics {
	var sum, top float64
	for _, s := range a.speeds {
		sum += s
		top = math.Max(top, s)
	}
	var avg float64
	if len(a.speeds) > 0 {
		avg = sum / float64(len(a.speeds))
	}
	return model.MovementAnalytics{
		GuardID:         guardID,
		Distance:        a.distance,
		AvgSpeed:        avg,
		MaxSpeed:        top,
		TimeMoving:      a.moving,
		TimeStationary:  a.stationary,
		RouteEfficiency: kinematics.RouteEfficiency(a.distance, a.moving),
		Timestamp:       now,
	}
}

// Aggregator keeps one accumulator per guard. It is safe for concurrent use.
type Aggregator struct {
	cfg  Config
	sink Sink
	now  func() time.Time

	mu     sync.Mutex
	guards map[string]*accumulator
}

// New creates an Aggregator emitting into sink.
func New(cfg Config, sink Sink) *Aggregator {
	return &Aggregator{
		cfg:    cfg.withDefaults(),
		sink:   sink,
		now:    time.Now,
		guards: map[string]*accumulator{},
	}
}

// SetClock replaces the wall clock, for tests and replays.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Ingest folds one sample into its guard's accumulator.
func (a *Aggregator) Ingest(s model.LocationSample) error {
	if err := model.Validate(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	now := a.now()

	a.mu.Lock()
	acc, ok := a.guards[s.GuardID]
	if !ok {
		a.guards[s.GuardID] = &accumulator{
			last:        s,
			speeds:      make([]float64, 0, MaxSpeedSamples),
			windowStart: now,
			lastSeen:    now,
		}
		tracked := len(a.guards)
		a.mu.Unlock()
		metrics.TrackedGuards.Set(float64(tracked))
		a.sink.LocationUpdated(s)
		return nil
	}

	dt := s.Timestamp.Sub(acc.last.Timestamp).Seconds()
	if dt < 0 {
		a.mu.Unlock()
		return fmt.Errorf("%w: guard %s sample at %s precedes %s", ErrOutOfOrder, s.GuardID,
			s.Timestamp.Format(time.RFC3339), acc.last.Timestamp.Format(time.RFC3339))
	}
	dist := kinematics.DistanceMeters(acc.last.Lat(), acc.last.Lng(), s.Lat(), s.Lng())
	speed := kinematics.SpeedKmh(dist, dt)

	acc.distance += dist
	acc.speeds = append(acc.speeds, speed)
	if n := len(acc.speeds); n > MaxSpeedSamples {
		k := copy(acc.speeds, acc.speeds[n-MaxSpeedSamples:])
		acc.speeds = acc.speeds[:k]
	}
	if speed > kinematics.MovingThresholdKmh {
		acc.moving += dt
	} else {
		acc.stationary += dt
	}
	acc.samples++
	acc.last = s
	acc.lastSeen = now

	snap, flushed := a.maybeFlush(s.GuardID, acc, now)
	a.mu.Unlock()

	a.sink.LocationUpdated(s)
	if flushed {
		a.emit(snap)
	}
	return nil
}

// maybeFlush closes the window of acc when it has elapsed. Caller holds a.mu.
func (a *Aggregator) maybeFlush(guardID string, acc *accumulator, now time.Time) (model.MovementAnalytics, bool) {
	if now.Sub(acc.windowStart) < a.cfg.Window {
		return model.MovementAnalytics{}, false
	}
	if acc.samples == 0 {
		acc.windowStart = now
		return model.MovementAnalytics{}, false
	}
	snap := acc.snapshot(guardID, now)
	acc.reset(now)
	return snap, true
}

func (a *Aggregator) emit(snap model.MovementAnalytics) {
	metrics.AnalyticsFlushes.Inc()
	a.sink.AnalyticsReady(snap)
}

// FlushDue closes every elapsed window and evicts guards idle past the state TTL.
// Windows of guards that stopped reporting are emitted here rather than waiting for
// a sample that may never come.
func (a *Aggregator) FlushDue(now time.Time) {
	var out []model.MovementAnalytics
	var evicted []string

	a.mu.Lock()
	for id, acc := range a.guards {
		if a.cfg.StateTTL > 0 && now.Sub(acc.lastSeen) >= a.cfg.StateTTL {
			if acc.samples > 0 {
				out = append(out, acc.snapshot(id, now))
			}
			delete(a.guards, id)
			evicted = append(evicted, id)
			continue
		}
		if snap, ok := a.maybeFlush(id, acc, now); ok {
			out = append(out, snap)
		}
	}
	tracked := len(a.guards)
	a.mu.Unlock()

	metrics.TrackedGuards.Set(float64(tracked))
	for _, id := range evicted {
		logging.Debug().Str("guard_id", id).Msg("evicted idle movement state")
	}
	for _, snap := range out {
		a.emit(snap)
	}
}

// Snapshot returns the analytics of the guard's open window without closing it.
func (a *Aggregator) Snapshot(guardID string) (model.MovementAnalytics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.guards[guardID]
	if !ok {
		return model.MovementAnalytics{}, false
	}
	return acc.snapshot(guardID, a.now()), true
}

// Last returns the most recent accepted sample of a guard.
func (a *Aggregator) Last(guardID string) (model.LocationSample, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.guards[guardID]
	if !ok {
		return model.LocationSample{}, false
	}
	return acc.last, true
}

// Len returns the number of guards with in-memory state.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.guards)
}

// Serve runs the background flush loop until ctx is canceled.
func (a *Aggregator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.FlushDue(a.now())
		}
	}
}

func (a *Aggregator) String() string { return "movement-aggregator" }
