package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolBasic(t *testing.T) {
	pool := NewPool(4, nil)
	ctx := context.Background()
	pool.Start(ctx)
	defer pool.Stop()

	var counter atomic.Int32
	for n := 0; n < 10; n++ {
		if !pool.Submit(func() {
			counter.Add(1)
		}) {
			t.Error("expected Submit to return true")
		}
	}

	time.Sleep(50 * time.Millisecond)

	if counter.Load() != 10 {
		t.Errorf("expected 10 jobs completed, got %d", counter.Load())
	}
}

func TestPoolSubmitBeforeStart(t *testing.T) {
	pool := NewPool(2, nil)
	if pool.Submit(func() {}) {
		t.Error("expected Submit to return false before Start")
	}
}

func TestPoolSubmitAfterCancel(t *testing.T) {
	pool := NewPool(2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	cancel()
	time.Sleep(10 * time.Millisecond)

	if pool.Submit(func() {}) {
		t.Error("expected Submit to return false after context cancel")
	}

	pool.Stop()
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(2, nil)
	pool.Start(context.Background())
	pool.Stop()

	if pool.Submit(func() {}) {
		t.Error("expected Submit to return false after Stop")
	}
}

func TestPoolDoubleStart(t *testing.T) {
	pool := NewPool(2, nil)
	ctx := context.Background()
	pool.Start(ctx)
	pool.Start(ctx)
	defer pool.Stop()

	var counter atomic.Int32
	pool.Submit(func() { counter.Add(1) })
	time.Sleep(20 * time.Millisecond)

	if counter.Load() != 1 {
		t.Errorf("expected 1 job completed, got %d", counter.Load())
	}
}

func TestPoolDefaultWorkers(t *testing.T) {
	pool := NewPool(0, nil)
	if pool.NumWorkers() <= 0 {
		t.Errorf("expected positive worker count, got %d", pool.NumWorkers())
	}

	pool = NewPool(-5, nil)
	if pool.NumWorkers() <= 0 {
		t.Errorf("expected positive worker count, got %d", pool.NumWorkers())
	}
}
