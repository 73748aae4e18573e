package download

import (
	"context"

	"github.com/ytget/media-dispatch/internal/model"
)

// Resolver turns an identifier into a resolved item.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*model.ResolvedItem, error)
}

// Dispatcher hands a resolved item to a download backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *model.ResolvedItem) error
}

// Queue defines the interface for the task queue.
type Queue interface {
	SetUpdateCallback(func([]model.QueueEntry))
	SetDeselectCallback(func(id string))
	Enqueue(id, label string) model.QueueEntry
	Remove(id string) bool
	Has(id string) bool
	Len() int
	Entries() []model.QueueEntry

	// Drain processes every entry one at a time until the queue is empty
	Drain(ctx context.Context) (*model.DrainReport, error)

	// Draining reports whether a drain is running
	Draining() bool

	// LastReport returns the report of the most recent finished drain
	LastReport() (*model.DrainReport, bool)
}
