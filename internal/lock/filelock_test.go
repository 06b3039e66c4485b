package lock_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/envcache/internal/fs"
	"github.com/calvinalkan/envcache/internal/lock"
)

func Test_Registry_Acquire_Returns_One_Handle_Per_Path_When_Called_Concurrently(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "shared.lock")

	const goroutines = 32

	handles := make([]*lock.FileLock, goroutines)

	var g errgroup.Group
	for i := range goroutines {
		g.Go(func() error {
			handles[i] = registry.Acquire(path)

			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i, h := range handles {
		require.Samef(t, handles[0], h, "handle %d differs from handle 0", i)
	}
	assert.Equal(t, 1, registry.Len())

	for _, h := range handles {
		registry.Release(h)
	}
	assert.Equal(t, 0, registry.Len(), "entry must be evicted after the last release")
}

func Test_Registry_Keeps_Entry_While_Lock_Is_Held(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "held.lock")

	h := registry.Acquire(path)
	require.NoError(t, h.Acquire())

	registry.Release(h)

	got, ok := registry.Lookup(path)
	require.True(t, ok, "held lock must stay registered")
	assert.Same(t, h, got)

	again := registry.Acquire(path)
	assert.Same(t, h, again, "re-acquiring a held path must return the live handle")

	require.NoError(t, again.Release())
	registry.Release(again)
	assert.Equal(t, 0, registry.Len())
}

func Test_FileLock_Reentrant_Acquire_Requires_Matching_Releases(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "reentrant.lock")
	h := registry.Acquire(path)
	t.Cleanup(func() { registry.Release(h) })

	other := lock.NewFileLock(registry.Locker(), path)

	require.NoError(t, h.Acquire())
	require.NoError(t, h.Acquire())
	assert.Equal(t, 2, h.Depth())

	require.NoError(t, h.Release())
	assert.Equal(t, 1, h.Depth())
	require.ErrorIs(t, other.TryAcquire(), lock.ErrLockTimeout, "OS lock must still be held at depth 1")

	require.NoError(t, h.Release())
	assert.Equal(t, 0, h.Depth())

	require.NoError(t, h.Release(), "extra release is a no-op")
	assert.Equal(t, 0, h.Depth())

	require.NoError(t, other.TryAcquire(), "OS lock must be free at depth 0")
	require.NoError(t, other.Release())
}

func Test_FileLock_ForceRelease_Releases_Regardless_Of_Depth(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "force.lock")
	h := lock.NewFileLock(registry.Locker(), path)

	for range 3 {
		require.NoError(t, h.Acquire())
	}
	require.Equal(t, 3, h.Depth())

	require.NoError(t, h.ForceRelease())
	assert.Equal(t, 0, h.Depth())

	other := lock.NewFileLock(registry.Locker(), path)
	require.NoError(t, other.TryAcquire())
	require.NoError(t, other.Release())

	require.NoError(t, h.ForceRelease(), "force release of an unheld lock is a no-op")
}

func Test_FileLock_AcquireTimeout_Returns_ErrLockTimeout_When_Held_By_Another_Handle(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "timeout.lock")

	holder := lock.NewFileLock(registry.Locker(), path)
	require.NoError(t, holder.Acquire())
	t.Cleanup(func() { _ = holder.Release() })

	waiter := lock.NewFileLock(registry.Locker(), path)

	const timeout = 50 * time.Millisecond

	start := time.Now()
	err := waiter.AcquireTimeout(timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, lock.ErrLockTimeout)
	require.ErrorIs(t, err, fs.ErrWouldBlock)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)
	assert.Equal(t, 0, waiter.Depth())
}

func Test_FileLock_Acquire_Waits_For_Another_Handle_To_Release(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "wait.lock")

	holder := lock.NewFileLock(registry.Locker(), path)
	require.NoError(t, holder.Acquire())

	waiter := lock.NewFileLock(registry.Locker(), path)

	var wg sync.WaitGroup
	wg.Add(1)

	acquired := make(chan error, 1)

	go func() {
		defer wg.Done()
		acquired <- waiter.Acquire()
	}()

	select {
	case err := <-acquired:
		t.Fatalf("Acquire returned while another handle held the lock: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, holder.Release())
	wg.Wait()

	require.NoError(t, <-acquired)
	assert.Equal(t, 1, waiter.Depth())
	require.NoError(t, waiter.Release())
}

func Test_FileLock_Acquire_Creates_Parent_Directory(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "a", "b", "key.lock")

	h := lock.NewFileLock(registry.Locker(), path)
	require.NoError(t, h.Acquire())
	require.NoError(t, h.Release())

	assert.FileExists(t, path)
}

func Test_FileLock_Bounded_Acquire_Does_Not_Queue_Behind_Blocked_Acquire(t *testing.T) {
	t.Parallel()

	registry := lock.NewRegistry(fs.NewReal())
	path := filepath.Join(t.TempDir(), "busy.lock")

	// A private descriptor stands in for another process.
	holder := lock.NewFileLock(registry.Locker(), path)
	require.NoError(t, holder.Acquire())

	h := registry.Acquire(path)
	t.Cleanup(func() { registry.Release(h) })

	blocked := make(chan error, 1)

	go func() { blocked <- h.Acquire() }()

	// Let the goroutine reach the OS wait.
	time.Sleep(50 * time.Millisecond)

	bounded := map[string]func() error{
		"TryAcquire":     h.TryAcquire,
		"AcquireTimeout": func() error { return h.AcquireTimeout(50 * time.Millisecond) },
	}

	for name, fn := range bounded {
		done := make(chan error, 1)

		go func() { done <- fn() }()

		select {
		case err := <-done:
			require.ErrorIs(t, err, lock.ErrLockTimeout, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("%s still waiting after 2s while another goroutine blocks in Acquire", name)
		}
	}

	assert.Equal(t, 0, h.Depth())

	require.NoError(t, holder.Release())
	require.NoError(t, <-blocked)
	assert.Equal(t, 1, h.Depth())

	require.NoError(t, h.TryAcquire(), "reentrant acquire succeeds once held")
	assert.Equal(t, 2, h.Depth())
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}

func Test_FileLock_AcquireTimeout_Rejects_Non_Positive_Timeout(t *testing.T) {
	t.Parallel()

	h := lock.NewFileLock(fs.NewLocker(fs.NewReal()), filepath.Join(t.TempDir(), "x.lock"))

	require.ErrorIs(t, h.AcquireTimeout(0), fs.ErrInvalidTimeout)
	assert.Equal(t, 0, h.Depth())
}
