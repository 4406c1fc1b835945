package multimutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMutexExclusive checks that holders of the same ID are serialized while
// different IDs don't block each other.
func TestMutexExclusive(t *testing.T) {
	t.Parallel()

	m := NewMutex[uint64]()

	const numWorkers = 8
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				m.Lock(1)
				counter++
				m.Unlock(1)
			}
		}()
	}

	// A different ID can be taken while the workers run.
	m.Lock(2)
	m.Unlock(2)

	wg.Wait()
	require.Equal(t, numWorkers*100, counter)
	require.Zero(t, m.numLocks())
}

// TestMutexDoubleUnlock checks that unlocking an unknown ID panics.
func TestMutexDoubleUnlock(t *testing.T) {
	t.Parallel()

	m := NewMutex[string]()
	m.Lock("a")
	m.Unlock("a")

	require.Panics(t, func() {
		m.Unlock("a")
	})
}
