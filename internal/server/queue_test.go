package server

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestTaskQueueRunsTasksInOrder(t *testing.T) {
	q := newTaskQueue("test", 16)

	var got []int
	for i := 0; i < 10; i++ {
		if !q.submit(func(context.Context) { got = append(got, i) }) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	q.stop()

	if len(got) != 10 {
		t.Fatalf("Expected 10 tasks to run, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("Expected tasks in submission order, got %v", got)
		}
	}
}

func TestTaskQueueRecoversPanics(t *testing.T) {
	q := newTaskQueue("test", 4)

	var ran atomic.Bool
	q.submit(func(context.Context) { panic("boom") })
	q.submit(func(context.Context) { ran.Store(true) })
	q.stop()

	if !ran.Load() {
		t.Error("Expected task after a panicking task to run")
	}
}

func TestTaskQueueRejectsAfterStop(t *testing.T) {
	q := newTaskQueue("test", 4)
	q.stop()
	q.stop()

	if q.submit(func(context.Context) {}) {
		t.Error("Expected submit after stop to be rejected")
	}
}

func TestTaskQueueRejectsWhenFull(t *testing.T) {
	q := newTaskQueue("test", 1)
	defer q.stop()

	block := make(chan struct{})
	started := make(chan struct{})
	q.submit(func(context.Context) {
		close(started)
		<-block
	})
	<-started

	if !q.submit(func(context.Context) {}) {
		t.Fatal("Expected one queued task to fit")
	}
	if q.submit(func(context.Context) {}) {
		t.Error("Expected submit on a full queue to be rejected")
	}
	close(block)
}
