package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// taskQueue runs submitted tasks in order on one background goroutine.
// Submissions never block; a full queue rejects the task.
type taskQueue struct {
	name   string
	tasks  chan func(context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newTaskQueue(name string, size int) *taskQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &taskQueue{
		name:   name,
		tasks:  make(chan func(context.Context), size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *taskQueue) submit(task func(context.Context)) bool {
	select {
	case <-q.ctx.Done():
		return false
	default:
	}

	select {
	case q.tasks <- task:
		return true
	default:
		return false
	}
}

func (q *taskQueue) run() {
	defer close(q.done)
	for {
		select {
		case task := <-q.tasks:
			q.exec(task)
		case <-q.ctx.Done():
			q.drain()
			return
		}
	}
}

// drain runs whatever was queued before stop.
func (q *taskQueue) drain() {
	for {
		select {
		case task := <-q.tasks:
			q.exec(task)
		default:
			return
		}
	}
}

func (q *taskQueue) exec(task func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer func() {
		cancel()
		if p := recover(); p != nil {
			log.Error().Str("queue", q.name).Interface("panic", p).Msg("recovered panic in background task")
		}
	}()
	task(ctx)
}

// stop rejects further tasks, finishes queued ones and waits for the worker.
func (q *taskQueue) stop() {
	q.once.Do(q.cancel)
	<-q.done
}
