package interfaces

import "context"

type DedupStore interface {
	// MarkSeen returns false when key was already marked.
	MarkSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}
