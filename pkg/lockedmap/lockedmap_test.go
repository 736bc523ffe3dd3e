package lockedmap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_ReadWrite(t *testing.T) {
	m := New[string, int]()

	m.Write(func(mm map[string]int) {
		mm["a"] = 1
		mm["b"] = 2
	})

	got := ReadResult(m, func(v View[string, int]) int {
		val, _ := v.Get("b")
		return val
	})
	assert.Equal(t, 2, got)

	n := ReadResult(m, func(v View[string, int]) int { return v.Len() })
	assert.Equal(t, 2, n)

	removed := WriteResult(m, func(mm map[string]int) bool {
		_, ok := mm["a"]
		delete(mm, "a")
		return ok
	})
	assert.True(t, removed)

	present := ReadResult(m, func(v View[string, int]) bool {
		_, ok := v.Get("a")
		return ok
	})
	assert.False(t, present)
}

func TestMap_RangeStopsEarly(t *testing.T) {
	m := New[int, int]()
	m.Write(func(mm map[int]int) {
		for i := 0; i < 10; i++ {
			mm[i] = i
		}
	})

	visited := 0
	m.Read(func(v View[int, int]) {
		v.Range(func(_, _ int) bool {
			visited++
			return visited < 3
		})
	})
	assert.Equal(t, 3, visited)
}

func TestMap_LockReleasedAfterPanic(t *testing.T) {
	m := New[string, int]()

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		m.Write(func(map[string]int) {
			panic("boom")
		})
	}()

	func() {
		defer func() {
			require.NotNil(t, recover())
		}()
		m.Read(func(View[string, int]) {
			panic("boom")
		})
	}()

	done := make(chan struct{})
	go func() {
		m.Write(func(mm map[string]int) { mm["after"] = 1 })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write lock was leaked by a panicking callback")
	}
}

func TestMap_ConcurrentReaders(t *testing.T) {
	m := New[int, int]()
	m.Write(func(mm map[int]int) { mm[1] = 1 })

	// Two readers must be able to hold the lock at the same time.
	inside := make(chan struct{})
	release := make(chan struct{})
	go m.Read(func(View[int, int]) {
		close(inside)
		<-release
	})
	<-inside

	done := make(chan struct{})
	go func() {
		m.Read(func(View[int, int]) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second reader blocked behind first reader")
	}
	close(release)
}

func TestMap_WriteExcludesReaders(t *testing.T) {
	m := New[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Write(func(mm map[int]int) { mm[i] = i * 2 })
		}(i)
		go func(i int) {
			defer wg.Done()
			m.Read(func(v View[int, int]) {
				if val, ok := v.Get(i); ok {
					assert.Equal(t, i*2, val)
				}
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, ReadResult(m, func(v View[int, int]) int { return v.Len() }))
}

// A Write queued while a Read callback is running only proceeds after that
// callback returns. Issued from inside the callback it would never proceed.
func TestMap_WriteWaitsForActiveRead(t *testing.T) {
	m := New[string, int]()

	written := make(chan struct{})
	m.Read(func(View[string, int]) {
		go func() {
			m.Write(func(mm map[string]int) { mm["k"] = 1 })
			close(written)
		}()

		select {
		case <-written:
			t.Fatal("write ran while a read callback held the lock")
		case <-time.After(20 * time.Millisecond):
		}
	})

	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("write did not run after the read callback returned")
	}
	assert.Equal(t, 1, ReadResult(m, func(v View[string, int]) int { return v.Len() }))
}

// Compound operations run inside one callback instead of nesting calls.
func TestMap_CompoundOperationInOneCallback(t *testing.T) {
	m := New[string, int]()
	m.Write(func(mm map[string]int) { mm["a"] = 1 })

	moved := WriteResult(m, func(mm map[string]int) bool {
		v, ok := mm["a"]
		if !ok {
			return false
		}
		delete(mm, "a")
		mm["b"] = v + 1
		return true
	})
	require.True(t, moved)

	got := ReadResult(m, func(v View[string, int]) int {
		val, _ := v.Get("b")
		return val
	})
	assert.Equal(t, 2, got)
}
