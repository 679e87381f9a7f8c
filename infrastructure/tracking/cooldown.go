package tracking

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/helixml/vecmatch/domain/task"
)

var (
	_ Reporter  = (*Cooldown)(nil)
	_ io.Closer = (*Cooldown)(nil)
)

// Cooldown wraps a Reporter and limits how often in-progress updates are
// delivered per status ID. Terminal states are delivered immediately, after
// any pending update for the same ID. A zero interval delivers everything.
type Cooldown struct {
	inner    Reporter
	interval time.Duration
	mu       sync.Mutex
	entries  map[string]*cooldownEntry
}

type cooldownEntry struct {
	lastFlush time.Time
	pending   *pendingStatus
	timer     *time.Timer
}

type pendingStatus struct {
	ctx    context.Context
	status task.Status
}

// NewCooldown creates a Cooldown wrapping the given reporter.
func NewCooldown(inner Reporter, interval time.Duration) *Cooldown {
	return &Cooldown{
		inner:    inner,
		interval: interval,
		entries:  make(map[string]*cooldownEntry),
	}
}

// OnChange receives a status update.
func (c *Cooldown) OnChange(ctx context.Context, status task.Status) error {
	if c.interval <= 0 {
		return c.inner.OnChange(ctx, status)
	}

	id := status.ID()
	c.mu.Lock()

	if status.State().IsTerminal() {
		var pending *pendingStatus
		if entry := c.entries[id]; entry != nil {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			pending = entry.pending
			delete(c.entries, id)
		}
		c.mu.Unlock()
		if pending != nil {
			_ = c.inner.OnChange(pending.ctx, pending.status)
		}
		return c.inner.OnChange(ctx, status)
	}

	entry, exists := c.entries[id]
	if !exists {
		entry = &cooldownEntry{}
		c.entries[id] = entry
	}

	elapsed := time.Since(entry.lastFlush)
	if elapsed >= c.interval {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.pending = nil
		entry.lastFlush = time.Now()
		c.mu.Unlock()
		return c.inner.OnChange(ctx, status)
	}

	entry.pending = &pendingStatus{ctx: context.WithoutCancel(ctx), status: status}
	if entry.timer == nil {
		entry.timer = time.AfterFunc(c.interval-elapsed, func() {
			c.flushPending(id)
		})
	}

	c.mu.Unlock()
	return nil
}

// Close flushes all pending statuses and stops all timers.
func (c *Cooldown) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cooldownEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		if entry.pending != nil {
			_ = c.inner.OnChange(entry.pending.ctx, entry.pending.status)
		}
	}
	return nil
}

func (c *Cooldown) flushPending(id string) {
	c.mu.Lock()
	entry, exists := c.entries[id]
	if !exists {
		c.mu.Unlock()
		return
	}
	entry.timer = nil
	pending := entry.pending
	if pending == nil {
		c.mu.Unlock()
		return
	}
	entry.pending = nil
	entry.lastFlush = time.Now()
	c.mu.Unlock()

	_ = c.inner.OnChange(pending.ctx, pending.status)
}
