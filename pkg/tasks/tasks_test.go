package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobsRunInEnqueueOrder(t *testing.T) {
	s := NewSerializer("test", nil, nil)
	defer s.Stop()

	const n = 20
	var mu sync.Mutex
	var order []int

	// A gate job keeps the worker busy so the remaining enqueues pile up
	// in the queue in submission order.
	gate := make(chan struct{})
	go s.Enqueue(context.Background(), "gate", func(context.Context) (interface{}, error) {
		<-gate
		return nil, nil
	})

	// Give the gate job time to reach the worker.
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Enqueue(context.Background(), "ordered", func(context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
		// Serialize the enqueues themselves so submission order is known.
		time.Sleep(5 * time.Millisecond)
	}

	close(gate)
	wg.Wait()

	if len(order) != n {
		t.Fatalf("Expected %d jobs to run, got %d", n, len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("Job %d ran out of order (position %d): %v", got, i, order)
		}
	}
}

func TestJobBodiesDoNotInterleave(t *testing.T) {
	s := NewSerializer("test", nil, nil)
	defer s.Stop()

	var active int32
	var maxActive int32

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Enqueue(context.Background(), "counter", func(context.Context) (interface{}, error) {
				cur := atomic.AddInt32(&active, 1)
				for {
					max := atomic.LoadInt32(&maxActive)
					if cur <= max || atomic.CompareAndSwapInt32(&maxActive, max, cur) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("Expected at most 1 concurrent job body, observed %d", got)
	}
}

func TestJobErrorReachesCallerAndWorkerSurvives(t *testing.T) {
	s := NewSerializer("test", nil, nil)
	defer s.Stop()

	wantErr := errors.New("boom")
	_, err := s.Enqueue(context.Background(), "failing", func(context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected job error %v, got %v", wantErr, err)
	}

	// The worker must still be alive for subsequent jobs.
	got, err := s.Enqueue(context.Background(), "ok", func(context.Context) (interface{}, error) {
		return "alive", nil
	})
	if err != nil {
		t.Fatalf("Enqueue after failure returned error: %v", err)
	}
	if got != "alive" {
		t.Errorf("Expected result %q, got %v", "alive", got)
	}
}

func TestJobPanicIsCaught(t *testing.T) {
	s := NewSerializer("test", nil, nil)
	defer s.Stop()

	_, err := s.Enqueue(context.Background(), "panicking", func(context.Context) (interface{}, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("Expected error from panicking job")
	}

	if _, err := s.Enqueue(context.Background(), "ok", func(context.Context) (interface{}, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Worker did not survive panic: %v", err)
	}
}

func TestStopFailsQueuedJobs(t *testing.T) {
	s := NewSerializer("test", nil, nil)

	gate := make(chan struct{})
	go s.Enqueue(context.Background(), "gate", func(context.Context) (interface{}, error) {
		<-gate
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Enqueue(context.Background(), "queued", func(context.Context) (interface{}, error) {
			return nil, nil
		})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	close(gate)
	s.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStopped) && err != nil {
			t.Errorf("Expected ErrStopped or success for queued job, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Queued job's Enqueue did not return after Stop")
	}

	if _, err := s.Enqueue(context.Background(), "late", func(context.Context) (interface{}, error) {
		return nil, nil
	}); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped for enqueue after Stop, got %v", err)
	}
}

type countingNotifier struct {
	count int32
}

func (n *countingNotifier) Reset() { atomic.AddInt32(&n.count, 1) }

func TestActivityPokesNotifier(t *testing.T) {
	n := &countingNotifier{}
	s := NewSerializer("test", n, nil)
	defer s.Stop()

	if _, err := s.Enqueue(context.Background(), "noop", func(context.Context) (interface{}, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	// One poke on enqueue, one on dequeue.
	if got := atomic.LoadInt32(&n.count); got < 2 {
		t.Errorf("Expected at least 2 notifier resets, got %d", got)
	}
}
