// Package tasks provides the per-service job serializer. Every operation a
// store service exposes is funneled through one Serializer, which runs jobs
// strictly one at a time so that no two operations race on the service's
// database or HTTP session.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStopped is returned for jobs that were still queued (or submitted)
// when the serializer shut down.
var ErrStopped = errors.New("task serializer stopped")

// queueDepth bounds the pending queue. Enqueue blocks once the queue is
// full, which preserves FIFO ordering for the caller.
const queueDepth = 64

// Func is a unit of work executed by the serializer's worker.
type Func func(ctx context.Context) (interface{}, error)

// Notifier receives a ping for every enqueue and dequeue. The daemon wires
// the shared idle monitor here.
type Notifier interface {
	Reset()
}

type outcome struct {
	value interface{}
	err   error
}

type envelope struct {
	id     string
	name   string
	fn     Func
	result chan outcome
}

// Serializer runs enqueued jobs one at a time, in enqueue order, on a
// single worker goroutine. A failing job never takes the worker down; its
// error is delivered to the caller that enqueued it.
type Serializer struct {
	service  string
	logger   *zap.Logger
	notifier Notifier

	queue  chan *envelope
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSerializer creates and starts a serializer for the named service.
func NewSerializer(service string, notifier Notifier, logger *zap.Logger) *Serializer {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Serializer{
		service:  service,
		logger:   logger.With(zap.String("service", service)),
		notifier: notifier,
		queue:    make(chan *envelope, queueDepth),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go s.worker()
	return s
}

// Enqueue submits a job and blocks until the job has fully run, returning
// its result or error. Jobs execute in enqueue order; two concurrent
// Enqueue calls never interleave their job bodies.
func (s *Serializer) Enqueue(ctx context.Context, name string, fn Func) (interface{}, error) {
	env := &envelope{
		id:     uuid.NewString(),
		name:   name,
		fn:     fn,
		result: make(chan outcome, 1),
	}

	s.poke()

	select {
	case s.queue <- env:
	case <-s.ctx.Done():
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-env.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the worker down. Jobs still in the queue are failed with
// ErrStopped; the in-flight job, if any, runs to completion first.
func (s *Serializer) Stop() {
	s.cancel()
	<-s.done
}

func (s *Serializer) worker() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case env := <-s.queue:
			s.run(env)
		}
	}
}

func (s *Serializer) run(env *envelope) {
	s.poke()

	logger := s.logger.With(zap.String("task", env.name), zap.String("task_id", env.id))
	logger.Debug("running task")

	value, err := s.call(env)
	if err != nil {
		logger.Warn("task failed", zap.Error(err))
	}
	env.result <- outcome{value: value, err: err}
}

// call invokes the job function, converting a panic into an error so a
// misbehaving job cannot kill the shared worker.
func (s *Serializer) call(env *envelope) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", env.name, r)
		}
	}()
	return env.fn(s.ctx)
}

func (s *Serializer) drain() {
	for {
		select {
		case env := <-s.queue:
			env.result <- outcome{err: ErrStopped}
		default:
			return
		}
	}
}

func (s *Serializer) poke() {
	if s.notifier != nil {
		s.notifier.Reset()
	}
}
