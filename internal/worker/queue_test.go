package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueIsFIFO(t *testing.T) {
	for _, n := range []int{0, 1, 2, 17, 100} {
		q := NewQueue()
		var got []int

		for i := 0; i < n; i++ {
			i := i
			q.Push(func(context.Context) error {
				got = append(got, i)
				return nil
			})
		}
		require.Equal(t, n, q.Len())

		for {
			task, ok := q.Pop()
			if !ok {
				break
			}
			require.NoError(t, task(context.Background()))
		}

		want := make([]int, 0, n)
		for i := 0; i < n; i++ {
			want = append(want, i)
		}
		assert.Equal(t, want, append([]int{}, got...), "n=%d", n)
		assert.Zero(t, q.Len())
	}
}

func TestQueueConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 250
	q := NewQueue()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				p, i := p, i
				q.Push(func(ctx context.Context) error {
					seen := ctx.Value(seenKey{}).(map[int]int)
					if last, ok := seen[p]; ok && last >= i {
						t.Errorf("producer %d: task %d ran after %d", p, i, last)
					}
					seen[p] = i
					return nil
				})
			}
		}(p)
	}
	wg.Wait()

	ctx := context.WithValue(context.Background(), seenKey{}, map[int]int{})
	count := 0
	for {
		task, ok := q.Pop()
		if !ok {
			break
		}
		require.NoError(t, task(ctx))
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}

func TestQueueReadySignal(t *testing.T) {
	q := NewQueue()
	select {
	case <-q.Ready():
		t.Fatal("empty queue signalled ready")
	default:
	}

	q.Push(func(context.Context) error { return nil })
	q.Push(func(context.Context) error { return nil })
	<-q.Ready()

	_, ok := q.Pop()
	require.True(t, ok)
	select {
	case <-q.Ready():
	default:
		t.Fatal("queue with a remaining task did not signal")
	}
}

type seenKey struct{}
