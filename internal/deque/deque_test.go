package deque

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	d := New[int](4)
	d.PushBack(1)
	d.PushBack(2)

	v, ok := d.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = d.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestBoundedBlocking(t *testing.T) {
	d := New[int](2)
	d.PushBack(1)
	d.PushBack(2)

	pushed := make(chan struct{})
	go func() {
		d.PushBack(3)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push on full deque should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, 2, d.Len())

	_, ok := d.Pop()
	require.True(t, ok)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push should have unblocked after a pop freed capacity")
	}
}

func TestCloseWakesBlockedPop(t *testing.T) {
	d := New[int](1)
	done := make(chan bool)
	go func() {
		_, ok := d.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	d.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close should have woken the blocked pop")
	}

	_, ok := d.Pop()
	assert.False(t, ok, "pop after close must keep returning false")
}

func TestPopTimeout(t *testing.T) {
	d := New[int](1)
	start := time.Now()
	_, ok := d.PopTimeout(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	d.PushBack(7)
	v, ok := d.PopTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestConcurrentProducersNeverExceedCapacity(t *testing.T) {
	d := New[int](5)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			d.PushBack(v)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, d.Len(), 5)

	for range 50 {
		d.Pop()
	}
	wg.Wait()
}
