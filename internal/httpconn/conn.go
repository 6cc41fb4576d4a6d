// Package httpconn implements per-socket HTTP/1.1 connection state: a
// parser state machine over an ingress buffer, a response builder into an
// egress buffer plus an optional mmap'd file body, and the static/dynamic
// request handlers that produce a response. Grounded on
// _examples/s00inx-goserver/server/engine/session.go (the session-as-arena
// shape) and server/protocol/{parser,builder}.go (zero-copy parsing and
// response assembly), generalized from that repo's single-shot
// request/response cycle into the state machine that persistent,
// one-shot-rearmed connections need.
package httpconn

import (
	"net"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/s00inx/reactorweb/internal/buffer"
	"github.com/s00inx/reactorweb/internal/dbpool"
	"github.com/s00inx/reactorweb/internal/logsink"
)

// State is the parser's position in the REQUEST_LINE -> HEADERS -> BODY ->
// FINISH state machine.
type State int

const (
	StateRequestLine State = iota
	StateHeaders
	StateBody
	StateFinish
)

// liveConns counts open connections process-wide: New increments it and
// Close decrements it.
var liveConns atomic.Int64

// LiveConns reports the number of currently open connections.
func LiveConns() int64 { return liveConns.Load() }

// StaticRoot and DB are process-wide dependencies every Conn resolves
// requests against. EdgeTriggered mirrors the reactor's connection
// trigger mode: every Conn is registered on the same multiplexer with the
// same mode, so this is process-wide rather than per-Conn, matching the
// original HttpConn's static isET flag. All three are set once at server
// startup before any Conn is created.
var (
	StaticRoot    = "resources"
	DB            *dbpool.Pool
	EdgeTriggered bool
)

// Conn is one accepted socket's full request/response state. The reactor
// owns a Conn exclusively while it is not armed on the multiplexer; at
// most one worker task touches it at a time (see the one-shot discipline
// in the reactor package), so Conn itself needs no internal locking.
type Conn struct {
	fd   int
	peer net.Addr

	in  *buffer.Buffer
	out *buffer.Buffer

	state State
	req   Request
	resp  Response

	// egress file body, separate from out so the write path can splice
	// headers (out) then the mmap'd file region without copying it into
	// out first.
	fileBody   []byte
	fileOffset int
	writeDone  bool

	keepAlive bool
}

// Request holds the parsed request fields. The parser copies every field
// (Method/Path/Version, header values and Body) out of in's readable
// region, so they stay valid after the ingress buffer advances.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string
	Body    []byte

	// Form holds application/x-www-form-urlencoded fields decoded from
	// Body for the login/register endpoints. Populated lazily by
	// decodeForm.
	Form map[string]string
}

// Response holds the fields the builder needs to assemble the reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	FilePath    string
}

// New wraps an accepted, already-nonblocking fd into a Conn.
func New(fd int, peer net.Addr) *Conn {
	liveConns.Add(1)
	return &Conn{
		fd:        fd,
		peer:      peer,
		in:        buffer.Acquire(),
		out:       buffer.Acquire(),
		keepAlive: true,
	}
}

// FD returns the connection's socket descriptor.
func (c *Conn) FD() int { return c.fd }

// Peer returns the connection's remote address.
func (c *Conn) Peer() net.Addr { return c.peer }

// IsKeepAlive reports whether the most recently finished request asked to
// keep the connection open.
func (c *Conn) IsKeepAlive() bool { return c.keepAlive }

// PendingWriteBytes reports how much of the queued response is still
// unwritten, across both the header buffer and the mmap'd file tail.
func (c *Conn) PendingWriteBytes() int {
	return c.out.ReadableLen() + (len(c.fileBody) - c.fileOffset)
}

// Read drains the socket into the ingress buffer, one readv(2) call per
// iteration, looping for as long as EdgeTriggered and the previous call
// succeeded — the do-while(isET) shape HttpConn::read() uses around
// Buffer::ReadFd so an edge-triggered socket is fully drained to EAGAIN
// before Read returns. Returns the last call's byte count and whatever the
// underlying syscall reported, including syscall.EAGAIN — callers must
// check for EAGAIN explicitly before deciding n <= 0 means the peer closed
// the connection, since a plain zero-with-nil-error read IS EOF (see
// workerRead in the reactor package).
func (c *Conn) Read() (int, error) {
	n, err := c.in.ReadFromFD(c.fd)
	for EdgeTriggered && n > 0 {
		n, err = c.in.ReadFromFD(c.fd)
	}
	return n, err
}

// Process runs the parser against whatever is in the ingress buffer and,
// on a complete request, builds the response into the egress buffer (and
// optionally mmaps a static file body). Returns true iff a response is
// now queued and the caller should arm the multiplexer for write; false
// iff more input is required and the caller should rearm for read.
func (c *Conn) Process() bool {
	ok, err := c.parse()
	if err != nil {
		c.buildErrorResponse(400)
		return true
	}
	if !ok {
		return false
	}

	c.handle()
	return true
}

// Write drains the egress vector — the header buffer and any mmap'd file
// tail — to the socket with writev(2), one syscall splicing both iovecs
// per call so the file body never gets copied through out first. Loops
// issuing further writev calls as long as a call both wrote something and
// left the vector non-empty, so a large response drains in a bounded
// number of syscalls per writable event rather than one partial write.
// Returns total bytes written this call, or -1 with err set on a
// non-EAGAIN error.
func (c *Conn) Write() (int, error) {
	total := 0
	for {
		headerLen := c.out.ReadableLen()
		fileLen := len(c.fileBody) - c.fileOffset
		if headerLen == 0 && fileLen == 0 {
			c.writeDone = true
			return total, nil
		}

		var iov [2]syscall.Iovec
		nvec := 0
		if headerLen > 0 {
			iov[nvec].Base = &c.out.Peek()[0]
			iov[nvec].SetLen(headerLen)
			nvec++
		}
		if fileLen > 0 {
			iov[nvec].Base = &c.fileBody[c.fileOffset]
			iov[nvec].SetLen(fileLen)
			nvec++
		}

		wn, err := writev(c.fd, iov[:nvec])
		if wn > 0 {
			total += wn
			remaining := wn
			if headerLen > 0 {
				take := remaining
				if take > headerLen {
					take = headerLen
				}
				c.out.Consume(take)
				remaining -= take
			}
			if remaining > 0 {
				c.fileOffset += remaining
			}
		}
		if err != nil {
			if err == syscall.EAGAIN {
				return total, nil
			}
			return -1, err
		}
		if wn == 0 {
			return total, nil
		}
	}
}

// writev wraps the writev(2) syscall, which the syscall package does not
// export on linux directly, the way
// _examples/other_examples/funny-falcon-highloadcup2018__server.go wraps
// it: a raw SYS_WRITEV trap retried across EINTR.
func writev(fd int, iov []syscall.Iovec) (int, error) {
	for {
		n, _, errno := syscall.Syscall(syscall.SYS_WRITEV, uintptr(fd), uintptr(unsafe.Pointer(&iov[0])), uintptr(len(iov)))
		if errno == syscall.EINTR {
			continue
		}
		if errno != 0 {
			return int(n), errno
		}
		return int(n), nil
	}
}

// Drained reports whether the full response (headers + file body) has
// been written out.
func (c *Conn) Drained() bool { return c.writeDone }

// ResetForNextRequest clears per-request state ahead of parsing the next
// keep-alive request on this connection: unmaps any file body from the
// response just drained, drops the old request/response, and rewinds the
// egress buffer and write cursors. The reactor's write task calls this once a drained,
// keep-alive connection is about to be re-armed for another request.
func (c *Conn) ResetForNextRequest() {
	c.req = Request{}
	c.resp = Response{}
	c.unmapFile()
	c.out.ConsumeAll()
	c.fileOffset = 0
	c.writeDone = false
	c.state = StateRequestLine
}

func (c *Conn) unmapFile() {
	if c.fileBody != nil {
		if err := syscall.Munmap(c.fileBody); err != nil {
			logsink.Errorf("httpconn: munmap: %v", err)
		}
		c.fileBody = nil
	}
}

// Close releases the connection's resources: unmaps any file body,
// releases its buffers back to the pool, closes the fd, and decrements
// the process-wide connection count.
func (c *Conn) Close() error {
	c.unmapFile()
	buffer.Release(c.in)
	buffer.Release(c.out)
	c.in, c.out = nil, nil
	liveConns.Add(-1)
	return syscall.Close(c.fd)
}
