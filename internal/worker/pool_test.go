package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errWalkFailed = errors.New("store unavailable")

// fakeWalkResult implements Result
type fakeWalkResult struct {
	attempt int
	err     error
}

func (r *fakeWalkResult) GetError() error { return r.err }

// fakeWalk implements Job. It stands in for a walk that takes hopDelay per hop.
type fakeWalk struct {
	attempt  int
	hops     int
	hopDelay time.Duration
	fail     bool
	begun    func()
	running  *atomic.Int32
	peak     *atomic.Int32
}

func (w *fakeWalk) Execute(ctx context.Context) Result {
	if w.begun != nil {
		w.begun()
	}
	if w.running != nil {
		now := w.running.Add(1)
		defer w.running.Add(-1)
		for {
			old := w.peak.Load()
			if now <= old || w.peak.CompareAndSwap(old, now) {
				break
			}
		}
	}

	for hop := 0; hop < w.hops; hop++ {
		select {
		case <-ctx.Done():
			return &fakeWalkResult{attempt: w.attempt, err: ctx.Err()}
		case <-time.After(w.hopDelay):
		}
	}
	if w.fail {
		return &fakeWalkResult{attempt: w.attempt, err: errWalkFailed}
	}
	return &fakeWalkResult{attempt: w.attempt}
}

func TestNewPool_Workers(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{5, 5},
		{1, 1},
		{0, 1},
		{-3, 1},
	}
	for _, tt := range tests {
		if got := NewPool(tt.in).workers; got != tt.want {
			t.Errorf("NewPool(%d).workers = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPool_EveryWalkReportsOnce(t *testing.T) {
	pool := NewPool(3)
	pool.Start()

	const walks = 12
	for i := 0; i < walks; i++ {
		if !pool.Submit(&fakeWalk{attempt: i, hops: 1, hopDelay: time.Millisecond}) {
			t.Fatalf("walk %d was not queued", i)
		}
	}

	seen := make(map[int]bool)
	for _, res := range pool.Wait() {
		r := res.(*fakeWalkResult)
		if seen[r.attempt] {
			t.Errorf("attempt %d reported twice", r.attempt)
		}
		seen[r.attempt] = true
	}
	if len(seen) != walks {
		t.Errorf("expected %d results, got %d", walks, len(seen))
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 4
	pool := NewPool(workers)
	pool.Start()

	var running, peak atomic.Int32
	for i := 0; i < 40; i++ {
		pool.Submit(&fakeWalk{attempt: i, hops: 2, hopDelay: 2 * time.Millisecond, running: &running, peak: &peak})
	}
	results := pool.Wait()

	if len(results) != 40 {
		t.Errorf("expected 40 results, got %d", len(results))
	}
	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency %d exceeded %d workers", p, workers)
	}
	if running.Load() != 0 {
		t.Errorf("expected no walks running after Wait, got %d", running.Load())
	}
}

func TestPool_FailedWalkDoesNotStopOthers(t *testing.T) {
	pool := NewPool(2)
	pool.Start()

	pool.Submit(&fakeWalk{attempt: 0, fail: true})
	pool.Submit(&fakeWalk{attempt: 1})
	pool.Submit(&fakeWalk{attempt: 2})

	failed := 0
	results := pool.Wait()
	for _, res := range results {
		if errors.Is(res.GetError(), errWalkFailed) {
			failed++
		}
	}
	if len(results) != 3 || failed != 1 {
		t.Errorf("expected 3 results with 1 failure, got %d results and %d failures", len(results), failed)
	}
}

func TestPool_SubmitBeyondBuffers(t *testing.T) {
	pool := NewPool(2)
	pool.Start()

	const walks = 250
	done := make(chan int)
	go func() {
		for i := 0; i < walks; i++ {
			pool.Submit(&fakeWalk{attempt: i})
		}
		done <- len(pool.Wait())
	}()

	select {
	case got := <-done:
		if got != walks {
			t.Errorf("expected %d results, got %d", walks, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queueing more walks than the buffers hold blocked")
	}
}

func TestPool_ParentCancelRefusesWalks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPoolWithContext(ctx, 1)
	pool.Start()

	begun := make(chan struct{})
	pool.Submit(&fakeWalk{begun: func() { close(begun) }, hops: 1, hopDelay: time.Second})
	<-begun
	cancel()

	if pool.Submit(&fakeWalk{}) {
		t.Error("expected Submit to refuse walks once the parent context is cancelled")
	}
	results := pool.Wait()
	if len(results) != 1 || !errors.Is(results[0].GetError(), context.Canceled) {
		t.Errorf("expected the running walk to report cancellation, got %v", results)
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(2)
	pool.Start()
	pool.Shutdown()

	queued := make(chan bool)
	go func() { queued <- pool.Submit(&fakeWalk{}) }()

	select {
	case ok := <-queued:
		if ok {
			t.Error("expected Submit to report the walk was not queued")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit after Shutdown blocked")
	}
}

func TestPool_ShutdownCancelsRunningWalk(t *testing.T) {
	pool := NewPool(2)
	pool.Start()

	begun := make(chan struct{})
	pool.Submit(&fakeWalk{begun: func() { close(begun) }, hops: 3, hopDelay: 200 * time.Millisecond})
	<-begun

	stopped := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}

	results := pool.collector.snapshot()
	if len(results) != 1 {
		t.Fatalf("expected the running walk to report, got %d results", len(results))
	}
	if !errors.Is(results[0].GetError(), context.Canceled) {
		t.Errorf("expected a cancelled walk, got %v", results[0].GetError())
	}
}
