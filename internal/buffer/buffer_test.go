package buffer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadable(t *testing.T) {
	b := New(4)
	parts := [][]byte{[]byte("hel"), []byte("lo, "), []byte("world")}
	var want []byte
	for _, p := range parts {
		b.Append(p)
		want = append(want, p...)
	}
	assert.Equal(t, len(want), b.ReadableLen())
	assert.Equal(t, want, b.Peek())
}

func TestConsume(t *testing.T) {
	b := New(16)
	b.Append([]byte("hello world"))
	b.Consume(6)
	assert.Equal(t, "world", string(b.Peek()))
	assert.Equal(t, 5, b.ReadableLen())
}

func TestConsumePastWritePosPanics(t *testing.T) {
	b := New(16)
	b.Append([]byte("hi"))
	assert.Panics(t, func() { b.Consume(100) })
}

func TestCompactPreservesReadableBytes(t *testing.T) {
	b := New(8)
	b.Append([]byte("abcdefgh"))
	b.Consume(6)
	before := b.ReadableLen()
	b.EnsureWritable(6) // head(6)+tail(0) >= 6 -> compacts
	assert.Equal(t, before, b.ReadableLen())
	assert.Equal(t, 0, b.PrependableLen())
	assert.Equal(t, "gh", string(b.Peek()))
}

func TestGrowWhenCompactionInsufficient(t *testing.T) {
	b := New(4)
	b.Append([]byte("ab"))
	b.EnsureWritable(100)
	assert.GreaterOrEqual(t, b.WritableLen(), 100)
	assert.Equal(t, "ab", string(b.Peek()))
}

func TestReadFromFDPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	payload := make([]byte, 5000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	go func() {
		_, _ = w.Write(payload)
		w.Close()
	}()

	b := New(128)
	total := 0
	for total < len(payload) {
		n, err := b.ReadFromFD(int(r.Fd()))
		total += n
		if n == 0 {
			break
		}
		if err != nil {
			break
		}
	}
	require.Equal(t, len(payload), b.ReadableLen())
	assert.Equal(t, payload, b.Peek())
}

func TestWriteToFD(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	b := New(16)
	b.Append([]byte("hello"))

	n, err := b.WriteToFD(int(w.Fd()))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, b.ReadableLen())

	got := make([]byte, 5)
	_, err = r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestConsumeAllZeroesCursors(t *testing.T) {
	b := New(16)
	b.Append([]byte("data"))
	b.Consume(2)
	b.ConsumeAll()
	assert.Equal(t, 0, b.ReadableLen())
	assert.Equal(t, 0, b.PrependableLen())
}
