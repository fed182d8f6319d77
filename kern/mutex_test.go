package kern

import (
	"testing"

	"github.com/joeycumines/go-microkern/oserror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_lifecycleValidation(t *testing.T) {
	var m *Mutex
	assert.ErrorIs(t, m.Init(nil), oserror.NullPointer)
	assert.ErrorIs(t, m.Pend(), oserror.NullPointer)
	assert.ErrorIs(t, m.Post(), oserror.NullPointer)
	assert.ErrorIs(t, m.TryPend(), oserror.NullPointer)
	assert.ErrorIs(t, m.Destroy(), oserror.NullPointer)

	assert.ErrorIs(t, new(Mutex).Init(nil), oserror.NullPointer)
}

func TestMutex_uninitialized(t *testing.T) {
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		var m Mutex
		m.k = k // a destroyed or never-initialized mutex still knows its machine
		assert.ErrorIs(t, m.Pend(), oserror.Uninitialized)
		assert.ErrorIs(t, m.Post(), oserror.Uninitialized)
		assert.ErrorIs(t, m.TryPend(), oserror.Uninitialized)
		assert.ErrorIs(t, m.Destroy(), oserror.Uninitialized)
		k.Shutdown()
		return nil
	})
	require.NoError(t, runKernel(t, k))
}

// TestMutex_mutualExclusion: two equal-priority threads hammer a shared
// counter under the mutex; every increment survives.
func TestMutex_mutualExclusion(t *testing.T) {
	const loops = 10000

	var k *Kernel
	var m Mutex
	counter := 0

	worker := func(any) any {
		for i := 0; i < loops; i++ {
			if err := m.Pend(); err != nil {
				return err
			}
			counter++
			if err := m.Post(); err != nil {
				return err
			}
			if i%128 == 0 {
				k.Yield()
			}
		}
		return nil
	}

	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, m.Init(k))

		a, err := k.Create(worker, 40, "a", nil)
		require.NoError(t, err)
		b, err := k.Create(worker, 40, "b", nil)
		require.NoError(t, err)

		var reta, retb any
		require.NoError(t, k.Join(a, &reta))
		require.NoError(t, k.Join(b, &retb))
		assert.Nil(t, reta)
		assert.Nil(t, retb)

		assert.Equal(t, 2*loops, counter)

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

// TestMutex_fifoHandoff: post hands the mutex CPU-first to the longest
// waiting thread.
func TestMutex_fifoHandoff(t *testing.T) {
	var k *Kernel
	var m Mutex
	var order []string

	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, m.Init(k))
		require.NoError(t, m.Pend())

		// Each parks on the held mutex, FIFO, during its Create.
		for _, name := range []string{"first", "second", "third"} {
			name := name
			_, err := k.Create(func(any) any {
				if err := m.Pend(); err != nil {
					return err
				}
				order = append(order, name)
				return m.Post()
			}, 20, name, nil)
			require.NoError(t, err)
		}

		// Release: the chain of posts drains the wait list in order.
		require.NoError(t, m.Post())

		assert.Equal(t, []string{"first", "second", "third"}, order)

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestMutex_tryPend(t *testing.T) {
	var k *Kernel
	var m Mutex

	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, m.Init(k))

		require.NoError(t, m.TryPend())
		assert.ErrorIs(t, m.TryPend(), oserror.MutexLocked)
		require.NoError(t, m.Post())
		require.NoError(t, m.TryPend())
		require.NoError(t, m.Post())

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

// TestMutex_destroyWakesWaiters: destroying a pended-on mutex makes the
// pending Pend return Uninitialized, and the waiter is runnable within one
// scheduling pass.
func TestMutex_destroyWakesWaiters(t *testing.T) {
	var k *Kernel
	var m Mutex
	var got any

	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, m.Init(k))
		require.NoError(t, m.Pend())

		waiter, err := k.Create(func(any) any {
			return m.Pend()
		}, 20, "waiter", nil)
		require.NoError(t, err)

		require.NoError(t, m.Destroy())
		require.NoError(t, k.Join(waiter, &got))
		assert.ErrorIs(t, got.(error), oserror.Uninitialized)

		// Subsequent access keeps failing the same way.
		assert.ErrorIs(t, m.Pend(), oserror.Uninitialized)

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestMutex_recursive(t *testing.T) {
	var k *Kernel
	var m Mutex

	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, m.InitFlags(k, MutexFlagRecursive))

		require.NoError(t, m.Pend())
		require.NoError(t, m.Pend())
		require.NoError(t, m.TryPend())

		// Still held until posts balance pends.
		contender, err := k.Create(func(any) any {
			return m.Pend()
		}, 20, "contender", nil)
		require.NoError(t, err)

		require.NoError(t, m.Post())
		require.NoError(t, m.Post())
		require.NoError(t, m.Post())

		// The final post handed the mutex to the contender.
		var got any
		require.NoError(t, k.Join(contender, &got))
		assert.Nil(t, got)
		assert.ErrorIs(t, m.Post(), oserror.UnauthorizedAction,
			"recursive mutexes track ownership; the contender still holds it")

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}
