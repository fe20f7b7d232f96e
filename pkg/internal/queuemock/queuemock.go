package queuemock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// QueueMock is an in-memory implementation of the queue.Queue type.
//
// SetDown makes every operation fail, standing in for an unreachable store.
//
// Intended for testing only.
type QueueMock struct {
	mu      sync.Mutex
	lists   map[string][]string
	down    error
	ackErr  error
	changed chan struct{}
	moves   int
}

// New returns a new QueueMock.
func New() *QueueMock {
	return &QueueMock{
		lists:   make(map[string][]string),
		changed: make(chan struct{}),
	}
}

// SetDown makes all operations fail with err until called with nil.
func (q *QueueMock) SetDown(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.down = err
	q.broadcast()
}

// FailRemove makes Remove alone fail with err until called with nil, so a
// value can be moved and handled but not acknowledged.
func (q *QueueMock) FailRemove(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ackErr = err
}

// Inject pushes values onto the head of key even while the mock is down,
// as a producer with its own path to the store would.
func (q *QueueMock) Inject(key string, values ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, v := range values {
		q.lists[key] = append([]string{v}, q.lists[key]...)
	}
	q.broadcast()
}

// List returns a copy of the list at key, head first.
func (q *QueueMock) List(key string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.lists[key]...)
}

// Moves returns the number of successful moves.
func (q *QueueMock) Moves() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.moves
}

func (q *QueueMock) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push pushes values onto the head of key.
func (q *QueueMock) Push(ctx context.Context, key string, values ...string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down != nil {
		return 0, q.down
	}
	for _, v := range values {
		q.lists[key] = append([]string{v}, q.lists[key]...)
	}
	q.broadcast()
	return int64(len(q.lists[key])), nil
}

func (q *QueueMock) move(src, dst string) (string, bool) {
	l := q.lists[src]
	if len(l) == 0 {
		return "", false
	}
	v := l[len(l)-1]
	q.lists[src] = l[:len(l)-1]
	q.lists[dst] = append([]string{v}, q.lists[dst]...)
	q.moves++
	return v, true
}

// Move moves the tail of src onto the head of dst.
func (q *QueueMock) Move(ctx context.Context, src, dst string) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down != nil {
		return "", false, q.down
	}
	v, ok := q.move(src, dst)
	return v, ok, nil
}

// BlockingMove waits up to timeout for src to have an entry, then moves it.
func (q *QueueMock) BlockingMove(ctx context.Context, src, dst string, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if q.down != nil {
			err := q.down
			q.mu.Unlock()
			return "", false, err
		}
		v, ok := q.move(src, dst)
		wait := q.changed
		q.mu.Unlock()
		if ok {
			return v, true, nil
		}

		select {
		case <-wait:
		case <-timer.C:
			return "", false, nil
		case <-ctx.Done():
			return "", false, errors.WithStack(ctx.Err())
		}
	}
}

// Remove removes the occurrence of value closest to the head of key.
func (q *QueueMock) Remove(ctx context.Context, key, value string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down != nil {
		return 0, q.down
	}
	if q.ackErr != nil {
		return 0, q.ackErr
	}
	l := q.lists[key]
	for i, v := range l {
		if v == value {
			q.lists[key] = append(l[:i:i], l[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

// Len returns the length of key.
func (q *QueueMock) Len(ctx context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down != nil {
		return 0, q.down
	}
	return int64(len(q.lists[key])), nil
}

// Range returns the list at key, head first.
func (q *QueueMock) Range(ctx context.Context, key string) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.down != nil {
		return nil, q.down
	}
	return append([]string(nil), q.lists[key]...), nil
}
