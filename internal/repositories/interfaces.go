package repositories

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// PersistentStore is the durable key-value store backing the operation
// queue. Set must replace the value atomically: a reader never observes a
// partially written value.
type PersistentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
