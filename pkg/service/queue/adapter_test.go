package queue_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rwool/twiceredis/pkg/internal/redistest"
	"github.com/rwool/twiceredis/pkg/service/queue"
)

func newAdapter(t *testing.T) (*queue.RedisAdapter, *redistest.Topology) {
	tp := redistest.NewTopology(t, 1)
	c := tp.Client(t)
	return queue.NewRedisAdapter(c.Write()), tp
}

func TestMoveIsFIFO(t *testing.T) {
	t.Parallel()
	q, tp := newAdapter(t)
	ctx := context.Background()

	n, err := q.Push(ctx, "q", "1", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, want := range []string{"1", "2", "3"} {
		v, ok, err := q.Move(ctx, "q", "q_processing")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, v, "Oldest value should move first.")
	}
	_, ok, err := q.Move(ctx, "q", "q_processing")
	require.NoError(t, err, "Empty queue is not an error.")
	assert.False(t, ok)

	processing, err := tp.Primary.List("q_processing")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, processing, "Newest move should be at the head.")
}

func TestBlockingMove(t *testing.T) {
	t.Parallel()
	q, _ := newAdapter(t)
	ctx := context.Background()

	start := time.Now()
	_, ok, err := q.BlockingMove(ctx, "empty", "empty_processing", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, time.Since(start) >= 900*time.Millisecond, "Sub-second waits are rounded up to a second.")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = q.Push(ctx, "late", "x")
	}()
	v, ok, err := q.BlockingMove(ctx, "late", "late_processing", 3*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "Value pushed while blocked should be moved.")
	assert.Equal(t, "x", v)
}

func TestRemoveTakesOneOccurrence(t *testing.T) {
	t.Parallel()
	q, _ := newAdapter(t)
	ctx := context.Background()

	_, err := q.Push(ctx, "p", "dup", "other", "dup")
	require.NoError(t, err)

	n, err := q.Remove(ctx, "p", "dup")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rest, err := q.Range(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "dup"}, rest)

	l, err := q.Len(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), l)
}

func TestConcurrentPushesMoveOnce(t *testing.T) {
	t.Parallel()
	q, tp := newAdapter(t)
	const producers, per = 5, 20

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	group, gctx := errgroup.WithContext(ctx)

	// Wait on a channel to "burst" all pushes as fast as possible.
	var ready sync.WaitGroup
	ready.Add(producers)
	start := make(chan struct{})
	for p := 0; p < producers; p++ {
		p := p
		group.Go(func() error {
			ready.Done()
			<-start
			for i := 0; i < per; i++ {
				if _, err := q.Push(gctx, "burst", strconv.Itoa(p)+"-"+strconv.Itoa(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	ready.Wait()
	close(start)
	require.NoError(t, group.Wait(), "Pushing should not error.")

	seen := make(map[string]int)
	last := make(map[string]int)
	for {
		v, ok, err := q.Move(ctx, "burst", "burst_processing")
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[v]++
		var producer, seq int
		for i := range v {
			if v[i] == '-' {
				producer, _ = strconv.Atoi(v[:i])
				seq, _ = strconv.Atoi(v[i+1:])
			}
		}
		key := strconv.Itoa(producer)
		if prev, ok := last[key]; ok {
			assert.Greater(t, seq, prev, "Values from one producer should arrive in push order.")
		}
		last[key] = seq
	}
	assert.Len(t, seen, producers*per)
	for v, n := range seen {
		assert.Equal(t, 1, n, "Value %s should be moved exactly once.", v)
	}
	processing, err := tp.Primary.List("burst_processing")
	require.NoError(t, err)
	assert.Len(t, processing, producers*per, "Every moved value should be in the processing list.")
}
