package jobid

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorPadding(t *testing.T) {
	a := NewAllocator(NewMemoryStore())

	id, err := a.Next(context.Background(), "JOB")
	require.NoError(t, err)
	require.Equal(t, "JOB001", id)

	var last string
	for i := 0; i < 100; i++ {
		last, err = a.Next(context.Background(), "JOB")
		require.NoError(t, err)
	}
	require.Equal(t, "JOB101", last)
}

func TestAllocatorWidthOption(t *testing.T) {
	a := NewAllocator(NewMemoryStore(), WithWidth(5))
	id, err := a.Next(context.Background(), "abt")
	require.NoError(t, err)
	require.Equal(t, "ABT00001", id)
}

func TestAllocatorPrefixNormalized(t *testing.T) {
	store := NewMemoryStore()
	a := NewAllocator(store)

	_, err := a.Next(context.Background(), " abt ")
	require.NoError(t, err)
	id, err := a.Next(context.Background(), "ABT")
	require.NoError(t, err)
	require.Equal(t, "ABT002", id)

	_, err = a.Next(context.Background(), "")
	require.Error(t, err)
}

func TestAllocatorCurrentDoesNotIncrement(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	_, err := a.Next(context.Background(), "JOB")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c, err := a.Current(context.Background(), "JOB")
		require.NoError(t, err)
		require.EqualValues(t, 1, c)
	}
}

func TestAllocatorSeed(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	require.NoError(t, a.Seed(context.Background(), "HIS", 412))

	id, err := a.Next(context.Background(), "HIS")
	require.NoError(t, err)
	require.Equal(t, "HIS413", id)

	require.Error(t, a.Seed(context.Background(), "HIS", -1))
}

func TestAllocatorConcurrentMonotonic(t *testing.T) {
	a := NewAllocator(NewMemoryStore())
	const n = 200

	var mu sync.Mutex
	var wg sync.WaitGroup
	ids := make(map[string]struct{}, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id, err := a.Next(context.Background(), "JOB")
			require.NoError(t, err)
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	// N distinct consecutive values, no gaps or repeats.
	require.Len(t, ids, n)
	want := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		want = append(want, fmt.Sprintf("JOB%03d", i))
	}
	got := make([]string, 0, n)
	for id := range ids {
		got = append(got, id)
	}
	sort.Strings(got)
	sort.Strings(want)
	require.Equal(t, want, got)
}
