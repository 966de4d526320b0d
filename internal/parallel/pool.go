// Package parallel runs index ranges across a fixed set of goroutines.
//
// The software device uses it to spread the invocations of one dispatch
// over the available cores.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a fixed set of worker goroutines fed from a shared queue.
//
// Pool is safe for concurrent use. Work submitted from inside a work item
// runs inline to avoid waiting on the pool's own workers.
type Pool struct {
	workers int
	queue   chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	inside  atomic.Int32
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: workers,
		queue:   make(chan func(), workers*4),
		done:    make(chan struct{}),
	}
	p.running.Store(true)
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case work := <-p.queue:
			p.inside.Add(1)
			work()
			p.inside.Add(-1)
		}
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes every item of work and returns when all have finished.
// On a closed pool, or when called from a work item, the items run on the
// calling goroutine.
func (p *Pool) Run(work []func()) {
	if len(work) == 0 {
		return
	}
	if len(work) == 1 || !p.running.Load() || p.inside.Load() > 0 {
		for _, fn := range work {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for _, fn := range work {
		item := func() {
			defer wg.Done()
			fn()
		}
		select {
		case p.queue <- item:
		case <-p.done:
			item()
		}
	}
	wg.Wait()
}

// For splits [0, n) into contiguous ranges of at least grain indices and
// calls fn once per range. Ranges never overlap, so fn may write to
// per-index state without locking.
func (p *Pool) For(n, grain int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if grain < 1 {
		grain = 1
	}
	chunks := min(p.workers*4, (n+grain-1)/grain)
	if chunks <= 1 {
		fn(0, n)
		return
	}
	size := (n + chunks - 1) / chunks
	work := make([]func(), 0, chunks)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		work = append(work, func() { fn(lo, hi) })
	}
	p.Run(work)
}

// Close stops the workers and runs whatever is still queued on the
// calling goroutine. Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
	for {
		select {
		case work := <-p.queue:
			work()
		default:
			return
		}
	}
}

// IsRunning reports whether the pool still accepts work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}
