package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTasksRunAndComplete(t *testing.T) {
	p := New(4)
	var count atomic.Int64

	const n = 100
	for range n {
		p.Submit(func() { count.Add(1) })
	}

	p.Close()
	p.Wait()

	assert.EqualValues(t, n, count.Load())
}

func TestSubmitAfterCloseIsDropped(t *testing.T) {
	p := New(2)
	p.Close()
	p.Wait()

	ran := false
	p.Submit(func() { ran = true })
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran)
}

func TestInFlightTaskCompletesBeforeCloseReturnsFromWait(t *testing.T) {
	p := New(1)
	started := make(chan struct{})
	finished := make(chan struct{})

	p.Submit(func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(finished)
	})
	<-started
	p.Close()
	p.Wait()

	select {
	case <-finished:
	default:
		t.Fatal("Wait returned before in-flight task finished")
	}
}

func TestPending(t *testing.T) {
	p := New(0) // no workers draining, so tasks just accumulate
	defer p.Close()

	p.Submit(func() {})
	p.Submit(func() {})
	assert.Equal(t, 2, p.Pending())
}
