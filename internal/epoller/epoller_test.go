package epoller

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReportsReadablePipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p, err := New(8)
	require.NoError(t, err)
	defer p.Close()

	rfd := int(r.Fd())
	require.NoError(t, p.Add(rfd, Readable))

	n, err := p.Wait(50)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing written yet, should time out with zero events")

	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)

	n, err = p.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, rfd, p.EventFD(0))
	assert.NotZero(t, p.EventMask(0)&Readable)
}

func TestModifyAndRemove(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	p, err := New(8)
	require.NoError(t, err)
	defer p.Close()

	rfd := int(r.Fd())
	require.NoError(t, p.Add(rfd, Readable|OneShot))

	_, _ = w.Write([]byte("x"))
	n, err := p.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// one-shot: without rearming, a second write produces no event.
	_, _ = w.Write([]byte("y"))
	n, err = p.Wait(50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, p.Modify(rfd, Readable|OneShot))
	n, err = p.Wait(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, p.Remove(rfd))
}

func TestWaitTimeoutReturnsPromptly(t *testing.T) {
	p, err := New(8)
	require.NoError(t, err)
	defer p.Close()

	start := time.Now()
	n, err := p.Wait(20)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
