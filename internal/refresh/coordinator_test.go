package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/convoy-ai/convoy/pkg/types"
)

// applyRecorder captures applyRefresh calls and can block or fail on demand.
type applyRecorder struct {
	mu       sync.Mutex
	calls    []types.RefreshMode
	inflight int32 // current concurrent executions
	maxConc  int32
	block    chan struct{}
	failN    int32
}

func newRecorder() *applyRecorder {
	return &applyRecorder{}
}

func (a *applyRecorder) fn(ctx context.Context, sessionID string, mode types.RefreshMode) error {
	cur := atomic.AddInt32(&a.inflight, 1)
	defer atomic.AddInt32(&a.inflight, -1)
	for {
		max := atomic.LoadInt32(&a.maxConc)
		if cur <= max || atomic.CompareAndSwapInt32(&a.maxConc, max, cur) {
			break
		}
	}

	if a.block != nil {
		<-a.block
	}

	a.mu.Lock()
	a.calls = append(a.calls, mode)
	a.mu.Unlock()

	if atomic.LoadInt32(&a.failN) > 0 {
		atomic.AddInt32(&a.failN, -1)
		return errors.New("sync endpoint unavailable")
	}
	return nil
}

func (a *applyRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *applyRecorder) modes() []types.RefreshMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.RefreshMode, len(a.calls))
	copy(out, a.calls)
	return out
}

func testConfig() types.RefreshConfig {
	return types.RefreshConfig{CoalesceDelayMs: 30, MinIntervalMs: 100}
}

func activeIs(id string) ActiveSessionFunc {
	return func() string { return id }
}

func waitForCalls(t *testing.T, rec *applyRecorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out: %d calls, want %d", rec.count(), want)
}

func progressReq(session, run string, ts int64) types.RefreshRequest {
	return types.RefreshRequest{
		SessionID:      session,
		Mode:           types.RefreshIncremental,
		Reason:         "progress",
		RunID:          run,
		EventTimestamp: ts,
	}
}

func TestCoordinator_CoalescesBurst(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), testConfig())
	defer c.Dispose()

	for i := 1; i <= 10; i++ {
		c.Enqueue(progressReq("s1", "r1", int64(i)))
	}

	waitForCalls(t, rec, 1)
	time.Sleep(60 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("Burst of 10 produced %d flushes, want 1", got)
	}
}

func TestCoordinator_EscalatesToFull(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), testConfig())
	defer c.Dispose()

	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshIncremental, Reason: "poll"})
	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull, Reason: "run-completed"})

	waitForCalls(t, rec, 1)
	time.Sleep(60 * time.Millisecond)

	modes := rec.modes()
	if len(modes) != 1 || modes[0] != types.RefreshFull {
		t.Errorf("Expected one full flush, got %v", modes)
	}
}

func TestCoordinator_DropsInactiveSession(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), testConfig())
	defer c.Dispose()

	c.Enqueue(types.RefreshRequest{SessionID: "other", Mode: types.RefreshFull})
	time.Sleep(80 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("Request for inactive session triggered %d flushes", rec.count())
	}
}

func TestCoordinator_StaleProgressDropped(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), testConfig())
	defer c.Dispose()

	c.Enqueue(progressReq("s1", "r1", 100))
	waitForCalls(t, rec, 1)

	// Older timestamp for the same run: dropped, no flush.
	c.Enqueue(progressReq("s1", "r1", 50))
	// Duplicate of the latest: also dropped.
	c.Enqueue(progressReq("s1", "r1", 100))
	time.Sleep(150 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("Stale progress triggered a flush: %d calls", got)
	}

	// A genuinely newer event still gets through.
	c.Enqueue(progressReq("s1", "r1", 200))
	waitForCalls(t, rec, 2)
}

func TestCoordinator_SingleFlight(t *testing.T) {
	rec := newRecorder()
	rec.block = make(chan struct{})
	c := New(rec.fn, activeIs("s1"), types.RefreshConfig{CoalesceDelayMs: 5, MinIntervalMs: 5})
	defer c.Dispose()

	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull})
	time.Sleep(30 * time.Millisecond) // first flush now blocked in apply

	// Requests arriving mid-flight merge into the next pending request.
	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshIncremental, Reason: "progress"})
	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull, Reason: "visibility"})
	time.Sleep(30 * time.Millisecond)

	close(rec.block)
	waitForCalls(t, rec, 2)

	if max := atomic.LoadInt32(&rec.maxConc); max != 1 {
		t.Errorf("Observed %d concurrent applyRefresh calls, want 1", max)
	}
	modes := rec.modes()
	if modes[1] != types.RefreshFull {
		t.Errorf("Mid-flight requests should have merged to full, got %v", modes)
	}
}

func TestCoordinator_IncrementalRespectsMinInterval(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), types.RefreshConfig{CoalesceDelayMs: 5, MinIntervalMs: 250})
	defer c.Dispose()

	c.Enqueue(progressReq("s1", "r1", 1))
	waitForCalls(t, rec, 1)
	flushedAt := time.Now()

	// Immediate skips the coalescing delay but not the incremental floor.
	req := progressReq("s1", "r1", 2)
	req.Immediate = true
	c.Enqueue(req)

	waitForCalls(t, rec, 2)
	if elapsed := time.Since(flushedAt); elapsed < 200*time.Millisecond {
		t.Errorf("Second incremental flush after %v, want >= ~250ms floor", elapsed)
	}
}

func TestCoordinator_FullBypassesMinInterval(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), types.RefreshConfig{CoalesceDelayMs: 5, MinIntervalMs: 500})
	defer c.Dispose()

	c.Enqueue(progressReq("s1", "r1", 1))
	waitForCalls(t, rec, 1)

	start := time.Now()
	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull, Immediate: true})
	waitForCalls(t, rec, 2)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Full flush waited %v despite bypassing rate limits", elapsed)
	}
}

func TestCoordinator_FailedFlushDoesNotWedge(t *testing.T) {
	rec := newRecorder()
	atomic.StoreInt32(&rec.failN, 1)
	c := New(rec.fn, activeIs("s1"), types.RefreshConfig{CoalesceDelayMs: 5, MinIntervalMs: 5})
	defer c.Dispose()

	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull})
	waitForCalls(t, rec, 1)

	// The failure is swallowed; the next request flushes normally.
	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull})
	waitForCalls(t, rec, 2)
}

func TestCoordinator_DisposeCancelsPending(t *testing.T) {
	rec := newRecorder()
	c := New(rec.fn, activeIs("s1"), types.RefreshConfig{CoalesceDelayMs: 100, MinIntervalMs: 100})

	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshIncremental})
	c.Dispose()

	time.Sleep(200 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("Disposed coordinator still flushed %d times", rec.count())
	}

	// Enqueue after dispose is a no-op.
	c.Enqueue(types.RefreshRequest{SessionID: "s1", Mode: types.RefreshFull})
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("Enqueue after dispose flushed %d times", rec.count())
	}
}
