// Package refresh turns a high-frequency stream of "something changed"
// signals into a minimal, ordered sequence of applyRefresh calls against
// the one session the user is currently looking at.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/pkg/types"
)

// ApplyFunc performs the actual re-sync. An error here is a transient
// FlushFailure: logged, never fatal to the coordinator.
type ApplyFunc func(ctx context.Context, sessionID string, mode types.RefreshMode) error

// ActiveSessionFunc reports the session the UI currently displays.
// Requests for any other session are discarded.
type ActiveSessionFunc func() string

// Coordinator debounces and escalates refresh requests. One instance per
// active session context; it enforces a strict single-flight discipline,
// so at most one applyRefresh call executes at a time.
type Coordinator struct {
	apply         ApplyFunc
	activeSession ActiveSessionFunc
	coalesceDelay time.Duration
	minInterval   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	pending       *types.RefreshRequest
	inFlight      bool
	timer         *time.Timer
	lastIncFlush  time.Time
	latestEventTS map[string]int64 // runID -> newest eventTimestamp seen
	disposed      bool
}

// New creates a Coordinator. cfg delays are in milliseconds; zero values
// fall back to the defaults.
func New(apply ApplyFunc, activeSession ActiveSessionFunc, cfg types.RefreshConfig) *Coordinator {
	def := types.DefaultConfig().Refresh
	if cfg.CoalesceDelayMs <= 0 {
		cfg.CoalesceDelayMs = def.CoalesceDelayMs
	}
	if cfg.MinIntervalMs <= 0 {
		cfg.MinIntervalMs = def.MinIntervalMs
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		apply:         apply,
		activeSession: activeSession,
		coalesceDelay: time.Duration(cfg.CoalesceDelayMs) * time.Millisecond,
		minInterval:   time.Duration(cfg.MinIntervalMs) * time.Millisecond,
		ctx:           ctx,
		cancel:        cancel,
		latestEventTS: make(map[string]int64),
	}
}

// Enqueue submits a refresh request. Requests for sessions other than the
// active one are dropped, as are out-of-order progress duplicates; the
// rest merge into the single pending request.
func (c *Coordinator) Enqueue(req types.RefreshRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return
	}
	if req.SessionID != c.activeSession() {
		return
	}

	if req.Reason == "progress" && req.RunID != "" && req.EventTimestamp != 0 {
		if req.EventTimestamp <= c.latestEventTS[req.RunID] {
			// A late-arriving packet must not regress state.
			return
		}
		c.latestEventTS[req.RunID] = req.EventTimestamp
	}

	if c.pending == nil {
		r := req
		c.pending = &r
	} else {
		if req.Mode == types.RefreshFull {
			c.pending.Mode = types.RefreshFull
		}
		if req.Immediate {
			c.pending.Immediate = true
		}
		c.pending.Reason = req.Reason
	}

	c.scheduleLocked()
}

// scheduleLocked (re)arms the flush timer for the pending request. While a
// flush is in flight nothing is scheduled; completion reschedules.
func (c *Coordinator) scheduleLocked() {
	if c.inFlight || c.pending == nil {
		return
	}

	delay := c.coalesceDelay
	if c.pending.Immediate || c.pending.Mode == types.RefreshFull {
		delay = 0
	}

	// Rate-limit floor applies to incremental mode only; full re-syncs
	// are rare and always urgent.
	if c.pending.Mode == types.RefreshIncremental && !c.lastIncFlush.IsZero() {
		if floor := c.minInterval - time.Since(c.lastIncFlush); floor > delay {
			delay = floor
		}
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.flush)
}

// flush executes the pending request under the single-flight discipline.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.disposed || c.inFlight || c.pending == nil {
		c.mu.Unlock()
		return
	}
	req := *c.pending
	c.pending = nil
	c.inFlight = true
	c.mu.Unlock()

	err := c.apply(c.ctx, req.SessionID, req.Mode)
	if err != nil {
		// One failed flush must not wedge the coordinator; the next
		// enqueued request schedules normally.
		logging.Warn().
			Err(err).
			Str("sessionID", req.SessionID).
			Str("mode", string(req.Mode)).
			Msg("refresh flush failed")
	}

	c.mu.Lock()
	c.inFlight = false
	if err == nil && req.Mode == types.RefreshIncremental {
		c.lastIncFlush = time.Now()
	}
	if c.pending != nil && !c.disposed {
		// A request arrived while the flush ran.
		c.scheduleLocked()
	}
	c.mu.Unlock()
}

// Dispose cancels pending timers and drops all state. Called when the
// owning session context is torn down.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.disposed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.latestEventTS = make(map[string]int64)
	c.cancel()
}
