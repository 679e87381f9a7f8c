// Package tracking fans operation progress out to reporters.
package tracking

import (
	"context"

	"github.com/helixml/vecmatch/domain/task"
)

// Reporter receives status changes.
type Reporter interface {
	OnChange(ctx context.Context, status task.Status) error
}
