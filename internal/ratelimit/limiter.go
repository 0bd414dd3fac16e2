// Package ratelimit counts user actions in a rolling time window.
//
// Reserve records a hit and hands back a Compensator. The caller commits it
// once the guarded operation succeeded; otherwise RollbackUnlessCommitted
// removes the hit again so a failed transaction does not eat into the quota.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrLimited = errors.New("rate limit exceeded")

type Limiter interface {
	// Reserve records one action for key. It returns ErrLimited, and records
	// nothing, when key already used its quota in the current window.
	Reserve(ctx context.Context, key string) (*Compensator, error)
}

// Compensator 回滚一次已经计入的请求
type Compensator struct {
	mu        sync.Mutex
	committed bool
	done      bool
	rollback  func(context.Context) error
}

func newCompensator(rollback func(context.Context) error) *Compensator {
	return &Compensator{rollback: rollback}
}

// Commit 标记业务已成功，之后不再回滚
func (c *Compensator) Commit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.committed = true
	c.mu.Unlock()
}

// RollbackUnlessCommitted is meant for defer. It is safe to call more than once.
func (c *Compensator) RollbackUnlessCommitted(ctx context.Context) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed || c.done {
		return
	}
	c.done = true
	if err := c.rollback(context.WithoutCancel(ctx)); err != nil {
		slog.ErrorContext(ctx, "Rate limit compensation failed", "error", err)
	}
}
