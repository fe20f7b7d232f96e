// Package queue implements the list primitives a reliable queue is built
// from.
//
// Producers push onto the head of a list; consumers atomically move the
// oldest entry (the tail) onto the head of a companion processing list and
// remove it from there once it has been handled. An entry is therefore
// always in exactly one of the two lists, so nothing is lost if a consumer
// dies between taking and finishing a message.
package queue

import (
	"context"
	"time"
)

// Queue wraps the set of list operations a reliable queue needs.
//
// Move and BlockingMove return ok=false when there was nothing to move.
type Queue interface {
	Push(ctx context.Context, key string, values ...string) (int64, error)
	Move(ctx context.Context, src, dst string) (value string, ok bool, err error)
	BlockingMove(ctx context.Context, src, dst string, timeout time.Duration) (value string, ok bool, err error)

	// Remove removes one occurrence of value from key, starting at the head.
	Remove(ctx context.Context, key, value string) (int64, error)

	Len(ctx context.Context, key string) (int64, error)
	Range(ctx context.Context, key string) ([]string, error)
}
