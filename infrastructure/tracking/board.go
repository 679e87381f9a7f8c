package tracking

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/helixml/vecmatch/domain/task"
)

var _ Reporter = (*Board)(nil)

// Board keeps the latest Status of every operation it has seen, so the
// progress of a running job can be read from outside it.
type Board struct {
	mu       sync.RWMutex
	statuses map[string]task.Status
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{statuses: make(map[string]task.Status)}
}

// OnChange records the status.
func (b *Board) OnChange(_ context.Context, status task.Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[status.ID()] = status
	return nil
}

// Snapshot returns the recorded statuses, oldest first.
func (b *Board) Snapshot() []task.Status {
	b.mu.RLock()
	result := make([]task.Status, 0, len(b.statuses))
	for _, s := range b.statuses {
		result = append(result, s)
	}
	b.mu.RUnlock()

	slices.SortFunc(result, func(a, b task.Status) int {
		if c := a.StartedAt().Compare(b.StartedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return result
}
