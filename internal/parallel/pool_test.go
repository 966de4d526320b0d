package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Pool Creation Tests
// =============================================================================

func TestPool_Create(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestPool_DefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		pool := NewPool(n)
		if pool.Workers() != runtime.GOMAXPROCS(0) {
			t.Errorf("NewPool(%d).Workers() = %d, want GOMAXPROCS", n, pool.Workers())
		}
		pool.Close()
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestPool_Run(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.Run(work)

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestPool_RunEmpty(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()
	pool.Run(nil)
}

func TestPool_RunAfterClose(t *testing.T) {
	pool := NewPool(2)
	pool.Close()

	ran := 0
	pool.Run([]func(){func() { ran++ }, func() { ran++ }})
	if ran != 2 {
		t.Errorf("ran = %d after Close, want 2 (inline)", ran)
	}
}

func TestPool_RunNested(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	var inner atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run([]func(){
			func() {
				pool.Run([]func(){func() { inner.Add(1) }, func() { inner.Add(1) }})
			},
			func() {},
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested Run deadlocked")
	}
	if inner.Load() != 2 {
		t.Errorf("inner = %d, want 2", inner.Load())
	}
}

func TestPool_CloseIdempotent(t *testing.T) {
	pool := NewPool(2)
	pool.Close()
	pool.Close()
	if pool.IsRunning() {
		t.Error("IsRunning() = true after Close")
	}
}

// =============================================================================
// For Tests
// =============================================================================

func TestPool_For(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		grain int
	}{
		{"empty", 0, 16},
		{"smaller than grain", 10, 64},
		{"exact", 256, 64},
		{"uneven", 1001, 7},
		{"zero grain", 50, 0},
	}

	pool := NewPool(4)
	defer pool.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, tt.n)
			pool.For(tt.n, tt.grain, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})
			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times, want 1", i, h)
				}
			}
		})
	}
}

func TestPool_ForSingleRange(t *testing.T) {
	pool := NewPool(8)
	defer pool.Close()

	calls := 0
	pool.For(100, 1000, func(lo, hi int) {
		calls++
		if lo != 0 || hi != 100 {
			t.Errorf("range = [%d, %d), want [0, 100)", lo, hi)
		}
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
