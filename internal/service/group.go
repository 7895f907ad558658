package service

import (
	"context"
	"fmt"
	"sync"
)

// TaskGroup scopes a set of goroutines to one lifetime. Stop cancels the
// shared context and waits for every task to return.
type TaskGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskGroup creates a group whose tasks are cancelled with parent
func NewTaskGroup(parent context.Context) *TaskGroup {
	ctx, cancel := context.WithCancel(parent)
	return &TaskGroup{ctx: ctx, cancel: cancel}
}

// Context returns the group context
func (g *TaskGroup) Context() context.Context {
	return g.ctx
}

// Go runs fn in a new goroutine tracked by the group
func (g *TaskGroup) Go(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Stop cancels all tasks and waits for them, bounded by ctx
func (g *TaskGroup) Stop(ctx context.Context) error {
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks did not stop: %w", ctx.Err())
	}
}
