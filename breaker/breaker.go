// Package breaker implements the per-provider circuit breaker: a
// closed/open/half-open guard tracking recent failures in a bucketed
// sliding window, gating half-open probes with a compare-and-swap permit
// counter, against a fixed taxonomy: failure threshold F, rolling window
// W, open duration O, half-open probe permits P, success threshold S.
package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/gateway/core"
	"github.com/itsneelabh/gateway/domain"
)

// State is one of the three circuit breaker states.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config carries the five tunables from §4.2. Zero values are rejected by
// Validate — a breaker with no failure threshold or no window is a
// construction error, not a permissive default.
type Config struct {
	FailureThreshold int           // F
	RollingWindow    time.Duration // W
	OpenDuration     time.Duration // O
	ProbePermits     int32         // P
	SuccessThreshold int32         // S
	BucketCount      int           // sliding window bucket resolution; defaults to 10
	Logger           core.Logger
}

func (c *Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return core.NewGatewayError("breaker.Validate", core.KindInternal, "failure threshold must be positive")
	}
	if c.RollingWindow <= 0 {
		return core.NewGatewayError("breaker.Validate", core.KindInternal, "rolling window must be positive")
	}
	if c.OpenDuration <= 0 {
		return core.NewGatewayError("breaker.Validate", core.KindInternal, "open duration must be positive")
	}
	if c.ProbePermits <= 0 {
		return core.NewGatewayError("breaker.Validate", core.KindInternal, "probe permits must be positive")
	}
	if c.SuccessThreshold <= 0 {
		return core.NewGatewayError("breaker.Validate", core.KindInternal, "success threshold must be positive")
	}
	return nil
}

type bucket struct {
	timestamp time.Time
	failures  uint64
}

// slidingWindow is a fixed-bucket-count ring used only to answer "how many
// failures occurred in the last W": old buckets age out by rotation, not
// by per-entry expiry, keeping RecordFailure O(1) amortized.
type slidingWindow struct {
	mu         sync.Mutex
	buckets    []bucket
	windowSize time.Duration
	bucketSize time.Duration
	currentIdx int
	lastRotate time.Time
}

func newSlidingWindow(windowSize time.Duration, bucketCount int) *slidingWindow {
	if bucketCount <= 0 {
		bucketCount = 10
	}
	now := time.Now()
	buckets := make([]bucket, bucketCount)
	for i := range buckets {
		buckets[i].timestamp = now
	}
	return &slidingWindow{
		buckets:    buckets,
		windowSize: windowSize,
		bucketSize: windowSize / time.Duration(bucketCount),
		lastRotate: now,
	}
}

func (w *slidingWindow) rotate(now time.Time) {
	elapsed := now.Sub(w.lastRotate)
	if elapsed < 0 {
		// Clock went backward; treat as a full reset rather than trust stale buckets.
		for i := range w.buckets {
			w.buckets[i] = bucket{timestamp: now}
		}
		w.currentIdx = 0
		w.lastRotate = now
		return
	}
	if elapsed < w.bucketSize {
		return
	}
	steps := int(elapsed / w.bucketSize)
	if steps > len(w.buckets) {
		steps = len(w.buckets)
	}
	for i := 0; i < steps; i++ {
		w.currentIdx = (w.currentIdx + 1) % len(w.buckets)
		w.buckets[w.currentIdx] = bucket{timestamp: now}
	}
	w.lastRotate = now
}

func (w *slidingWindow) recordFailure() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rotate(time.Now())
	w.buckets[w.currentIdx].failures++
}

func (w *slidingWindow) failuresInWindow() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.rotate(now)
	cutoff := now.Add(-w.windowSize)
	var total uint64
	for i := range w.buckets {
		if w.buckets[i].timestamp.After(cutoff) {
			total += w.buckets[i].failures
		}
	}
	return total
}

func (w *slidingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	for i := range w.buckets {
		w.buckets[i] = bucket{timestamp: now}
	}
	w.currentIdx = 0
	w.lastRotate = now
}

// Breaker guards calls to a single provider.
type Breaker struct {
	name   string
	config Config
	window *slidingWindow

	state          atomic.Int32 // State
	transitionedAt atomic.Value // time.Time

	halfOpenPermits atomic.Int32 // concurrent probes in flight
	halfOpenSuccess atomic.Int32
}

// New builds a Breaker for one provider. Config must validate.
func New(name string, cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	b := &Breaker{
		name:   name,
		config: cfg,
		window: newSlidingWindow(cfg.RollingWindow, cfg.BucketCount),
	}
	b.state.Store(int32(StateClosed))
	b.transitionedAt.Store(time.Now())
	return b, nil
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) transitionedTime() time.Time {
	return b.transitionedAt.Load().(time.Time)
}

func (b *Breaker) transition(to State) {
	b.state.Store(int32(to))
	b.transitionedAt.Store(time.Now())
	if to != StateHalfOpen {
		b.halfOpenPermits.Store(0)
		b.halfOpenSuccess.Store(0)
	}
	b.config.Logger.Info("circuit breaker transitioned", map[string]interface{}{
		"provider": b.name,
		"state":    to.String(),
	})
}

// Allow reports whether a call may proceed right now, and if the state is
// HALF_OPEN, reserves one of the P concurrent probe permits. The caller
// MUST call Report exactly once for every Allow that returned true, so the
// half-open permit is released.
func (b *Breaker) Allow() (bool, error) {
	switch b.State() {
	case StateClosed:
		return true, nil
	case StateOpen:
		if time.Since(b.transitionedTime()) >= b.config.OpenDuration {
			// First attempt past the open duration flips to half-open.
			// CompareAndSwap ensures only one caller performs the flip.
			if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
				b.transitionedAt.Store(time.Now())
				b.halfOpenPermits.Store(0)
				b.halfOpenSuccess.Store(0)
				b.config.Logger.Info("circuit breaker half-open probe window opened", map[string]interface{}{"provider": b.name})
			}
			return b.acquireHalfOpenPermit(), nil
		}
		return false, &core.GatewayError{Op: "breaker.Allow", Kind: core.KindCircuitOpen, Message: "circuit open for " + b.name, Err: core.ErrCircuitOpen}
	case StateHalfOpen:
		if b.acquireHalfOpenPermit() {
			return true, nil
		}
		return false, &core.GatewayError{Op: "breaker.Allow", Kind: core.KindCircuitOpen, Message: "half-open probe limit reached for " + b.name, Err: core.ErrCircuitOpen}
	default:
		return false, nil
	}
}

func (b *Breaker) acquireHalfOpenPermit() bool {
	for {
		current := b.halfOpenPermits.Load()
		if current >= b.config.ProbePermits {
			return false
		}
		if b.halfOpenPermits.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Report records the outcome of a call that Allow permitted.
func (b *Breaker) Report(success bool) {
	switch b.State() {
	case StateClosed:
		if success {
			return
		}
		b.window.recordFailure()
		if b.window.failuresInWindow() >= uint64(b.config.FailureThreshold) {
			if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
				b.transitionedAt.Store(time.Now())
				b.config.Logger.Warn("circuit breaker opened", map[string]interface{}{
					"provider": b.name,
					"failures": b.window.failuresInWindow(),
				})
			}
		}
	case StateHalfOpen:
		defer b.halfOpenPermits.Add(-1)
		if !success {
			b.transition(StateOpen)
			b.window.reset()
			return
		}
		successes := b.halfOpenSuccess.Add(1)
		if successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
			b.window.reset()
		}
	case StateOpen:
		// A late report for a call that started before OPEN — ignore.
	}
}

// ErrorClassifier decides whether an error counts against the breaker at
// all: 4xx validation/quota errors never count per §4.2's failure
// taxonomy, only network/timeout/5xx/provider-declared-transient do.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts only the taxonomy kinds §4.2 names as
// breaker-relevant failures.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	switch core.KindOf(err) {
	case core.KindTransientProvider, core.KindCircuitOpen, core.KindInternal:
		return true
	default:
		return false
	}
}

// Execute runs fn under the breaker's protection: it lets the call through
// if CLOSED, rejects immediately if OPEN or out of half-open permits, and
// reports the classified outcome back to the breaker exactly once, after
// fn returns. ctx cancellation during fn does not leak a half-open permit
// as long as fn returns; Report is called directly, not deferred, so a
// panic in fn skips it.
func (b *Breaker) Execute(ctx context.Context, classify ErrorClassifier, fn func(ctx context.Context) error) error {
	if classify == nil {
		classify = DefaultErrorClassifier
	}
	allowed, err := b.Allow()
	if !allowed {
		return err
	}
	callErr := fn(ctx)
	b.Report(!classify(callErr))
	return callErr
}

// Manager owns one Breaker per provider, created lazily on first use and
// retained for the process lifetime — providers are registered once at
// startup, so no eviction policy is needed.
type Manager struct {
	defaults Config
	breakers sync.Map // domain.ProviderID -> *Breaker
}

func NewManager(defaults Config) *Manager {
	return &Manager{defaults: defaults}
}

// For returns the Breaker for a provider, constructing one with the
// manager's default config on first access.
func (m *Manager) For(provider domain.ProviderID) *Breaker {
	if v, ok := m.breakers.Load(provider); ok {
		return v.(*Breaker)
	}
	b, _ := New(string(provider), m.defaults) // defaults are validated once at manager construction time by the caller
	actual, _ := m.breakers.LoadOrStore(provider, b)
	return actual.(*Breaker)
}
