package dedupe

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_ConcurrentCallersShareOneExecution(t *testing.T) {
	g := New()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	op := func() ([]string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return []string{"e1", "e2"}, nil
	}

	var wg sync.WaitGroup
	results := make([][]string, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = Do(g, "events:list", op)
	}()
	<-started

	wg.Add(1)
	joined := make(chan struct{})
	go func() {
		defer wg.Done()
		close(joined)
		results[1], errs[1] = Do(g, "events:list", op)
	}()
	<-joined
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "underlying operation should run once")
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, int64(2), g.Shared())
}

func TestDo_ErrorIsSharedAndKeyReleased(t *testing.T) {
	var hooked []string
	g := New(WithSharedHook(func(key string) { hooked = append(hooked, key) }))
	boom := errors.New("network unreachable")

	_, err := Do(g, "tasks:list", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	// A failed operation must not leave the key blocked.
	v, err := Do(g, "tasks:list", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Empty(t, hooked)
}

func TestDo_PanicReleasesKey(t *testing.T) {
	g := New()
	func() {
		defer func() { _ = recover() }()
		_, _ = Do(g, "profile:list", func() (int, error) { panic("bad payload") })
	}()

	v, err := Do(g, "profile:list", func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDo_DistinctKeysRunIndependently(t *testing.T) {
	g := New()
	var calls atomic.Int32
	for _, key := range []string{"a", "b", "c"} {
		_, err := Do(g, key, func() (struct{}, error) {
			calls.Add(1)
			return struct{}{}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, g.Shared())
}
