// SPDX-License-Identifier: MIT
package routing

import (
	"context"
	"fmt"
	"sync"

	"appmix/internal/types"

	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 64

// Op is one unit of routing work. Ops run one at a time on the queue worker,
// in submission order.
type Op interface {
	Apply(ctx context.Context) error
}

// Func adapts a function into an Op.
type Func func(ctx context.Context) error

// Apply implements Op.
func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Queue serializes ops onto a single goroutine. Close drains everything
// already enqueued before the worker exits.
type Queue struct {
	ch     chan Op
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewQueue creates a queue with a fixed buffer. Enqueue blocks while the
// buffer is full.
func NewQueue(buffer int, log *logrus.Entry) *Queue {
	if buffer <= 0 {
		buffer = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		ch:     make(chan Op, buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run()
}

func (q *Queue) run() {
	defer close(q.done)
	for op := range q.ch {
		if op == nil {
			continue
		}
		q.apply(op)
	}
}

func (q *Queue) apply(op Op) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("panic", r).Error("Routing op panicked")
		}
	}()
	if err := op.Apply(q.ctx); err != nil {
		q.log.WithError(err).Warn("Routing op failed")
	}
}

// Enqueue adds an op to the queue. It must not be called from inside an op.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return fmt.Errorf("queue not initialized")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return types.ErrClosed
	}
	q.ch <- op
	return nil
}

// Close stops accepting ops, runs the ones already queued and waits for the
// worker to finish.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.ch)
	started := q.started
	q.mu.Unlock()

	if !started {
		// Nothing will ever drain the buffer; run it here.
		go q.run()
	}
	<-q.done
	q.cancel()
}
