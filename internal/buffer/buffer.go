// Package buffer implements the growable, dual-cursor byte store shared by
// every connection's ingress and egress path.
package buffer

import (
	"sync"
	"syscall"
	"unsafe"
)

// spillSize bounds how much of one read can land outside the buffer's own
// writable tail before it gets appended in, so a single syscall can take up
// to WritableLen()+spillSize bytes without knowing the payload size up front.
const spillSize = 64 * 1024

// Buffer is an ordered octet sequence with two monotonically advancing
// cursors: readPos <= writePos <= cap(buf). [readPos, writePos) is the
// readable region, [writePos, cap) is the writable tail, [0, readPos) is
// the prependable head freed up by past Consume calls.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a Buffer with the given initial capacity.
func New(initialCap int) *Buffer {
	return &Buffer{buf: make([]byte, initialCap)}
}

// pool recycles Buffers across connection lifetimes the way
// _examples/s00inx-goserver/server/engine/session.go recycles its
// fixed-size session buffers.
var pool = sync.Pool{
	New: func() any { return New(4096) },
}

// Acquire returns a pooled Buffer, reset and ready for use.
func Acquire() *Buffer {
	b := pool.Get().(*Buffer)
	b.Reset()
	return b
}

// Release returns b to the pool. Callers must not touch b afterward.
func Release(b *Buffer) {
	pool.Put(b)
}

// ReadableLen returns the number of bytes available to Peek/Consume.
func (b *Buffer) ReadableLen() int {
	return b.writePos - b.readPos
}

// WritableLen returns the number of bytes available at the write cursor
// before the buffer must compact or grow.
func (b *Buffer) WritableLen() int {
	return len(b.buf) - b.writePos
}

// PrependableLen returns bytes freed by past Consume calls, reclaimable by
// compaction.
func (b *Buffer) PrependableLen() int {
	return b.readPos
}

// Peek returns a view of the readable region. The slice is only valid until
// the next mutating call on b.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readPos:b.writePos]
}

// Consume advances the read cursor by n, which must not exceed ReadableLen.
func (b *Buffer) Consume(n int) {
	if n > b.ReadableLen() {
		panic("buffer: consume past writePos")
	}
	b.readPos += n
}

// ConsumeAll consumes the entire readable region and resets both cursors to
// zero, zeroing the backing array so stale bytes never leak into a later
// read_from_fd spill.
func (b *Buffer) ConsumeAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// Reset restores a Buffer to its initial empty state without zeroing
// memory, used when recycling from the pool where a fresh Append will
// overwrite stale bytes anyway.
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
}

// EnsureWritable guarantees WritableLen() >= n, compacting the readable
// region to offset 0 when the head plus tail already suffice, otherwise
// doubling capacity (floored at writePos+n), matching Muduo-style
// buffer growth.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableLen() >= n {
		return
	}
	if b.PrependableLen()+b.WritableLen() >= n {
		b.compact()
		return
	}
	b.grow(n)
}

func (b *Buffer) compact() {
	readable := b.ReadableLen()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

func (b *Buffer) grow(n int) {
	need := b.writePos + n
	newCap := len(b.buf) * 2
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, newCap)
	copy(grown, b.buf[b.readPos:b.writePos])
	readable := b.ReadableLen()
	b.buf = grown
	b.readPos = 0
	b.writePos = readable
}

// Append copies data into the writable tail, growing or compacting first if
// necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	b.writePos += copy(b.buf[b.writePos:], data)
}

// BeginWrite returns a slice into the writable tail for callers (such as
// the header formatter) that build bytes directly into the buffer.
func (b *Buffer) BeginWrite() []byte {
	return b.buf[b.writePos:]
}

// HasWritten advances the write cursor after a direct BeginWrite write.
func (b *Buffer) HasWritten(n int) {
	b.writePos += n
}

// ReadFromFD reads fd with a single readv(2) call scattered across the
// writable tail and a stack spill buffer of spillSize bytes, so one call
// takes up to WritableLen()+spillSize bytes; the buffer grows only when
// bytes land in the spill. Draining an edge-triggered socket to EAGAIN
// takes repeated calls (httpconn.Conn.Read loops for that). Returns the
// total bytes read and the syscall error (EAGAIN included) if any.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	writable := b.WritableLen()
	var spill [spillSize]byte

	var iov [2]syscall.Iovec
	nvec := 0
	if writable > 0 {
		iov[nvec].Base = &b.buf[b.writePos]
		iov[nvec].SetLen(writable)
		nvec++
	}
	iov[nvec].Base = &spill[0]
	iov[nvec].SetLen(len(spill))
	nvec++

	n, err := readv(fd, iov[:nvec])
	if n <= 0 {
		return n, err
	}
	if n <= writable {
		b.writePos += n
		return n, err
	}
	b.writePos += writable
	b.Append(spill[:n-writable])
	return n, err
}

// readv wraps the readv(2) syscall, which the syscall package does not
// export on linux directly, the way
// _examples/other_examples/funny-falcon-highloadcup2018__server.go wraps
// writev: a raw SYS_READV trap retried across EINTR.
func readv(fd int, iov []syscall.Iovec) (int, error) {
	for {
		n, _, errno := syscall.Syscall(syscall.SYS_READV, uintptr(fd), uintptr(unsafe.Pointer(&iov[0])), uintptr(len(iov)))
		if errno == syscall.EINTR {
			continue
		}
		if errno != 0 {
			return int(n), errno
		}
		return int(n), nil
	}
}

// WriteToFD writes up to ReadableLen bytes to fd, advancing the read cursor
// by the number of bytes actually written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	readable := b.Peek()
	if len(readable) == 0 {
		return 0, nil
	}
	n, err := syscall.Write(fd, readable)
	if n > 0 {
		b.readPos += n
	}
	return n, err
}
