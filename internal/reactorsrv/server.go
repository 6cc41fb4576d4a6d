// Package reactorsrv implements the single-threaded reactor loop that owns
// the listener, connection table, multiplexer, and timer, dispatching
// readiness to a worker pool. Grounded on
// original_source/code/server/webserver.cpp's Start/DealListen_/DealRead_/
// DealWrite_/OnProcess/ExtentTime_/InitSocket_, reworked from the
// original's coarse mutex guarding its entire connection map into a
// reactor-goroutine-exclusive writer with workers doing only lookups
// (see Server's doc comment for the full split), and from callback
// binding via std::bind into closures, the Go-idiomatic equivalent the
// _examples/s00inx-goserver pack repo favors throughout its own epoll
// loop.
package reactorsrv

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/s00inx/reactorweb/internal/dbpool"
	"github.com/s00inx/reactorweb/internal/epoller"
	"github.com/s00inx/reactorweb/internal/httpconn"
	"github.com/s00inx/reactorweb/internal/logsink"
	"github.com/s00inx/reactorweb/internal/timerheap"
	"github.com/s00inx/reactorweb/internal/workerpool"
)

// Config names every constructor parameter the original server takes.
type Config struct {
	Port int

	// TriggerMode selects edge- vs level-triggered epoll registration.
	// Bit 0: connections edge-triggered. Bit 1: listener edge-triggered.
	TriggerMode int

	TimeoutMS  int
	OptLinger  bool
	MaxFD      int
	MaxEvents  int
	WorkerPool int

	// Backlog is the listen() backlog. original_source/code/server/webserver.cpp
	// hardcodes 6, which is unusually small for a reactor meant to absorb
	// bursty accepts; DefaultConfig raises it to 512 instead.
	Backlog int

	DB dbpool.Config

	LogEnable   bool
	LogLevel    logsink.Level
	LogDir      string
	LogQueueCap int

	StaticRoot string
}

// DefaultConfig mirrors the original's typical construction arguments:
// trigger mode 3 (both edge-triggered), a 60s idle timeout, linger on,
// an 8-worker pool, and async logging at info level.
func DefaultConfig() Config {
	return Config{
		Port:        8080,
		TriggerMode: 3,
		TimeoutMS:   60_000,
		OptLinger:   true,
		MaxFD:       65536,
		MaxEvents:   epoller.DefaultMaxEvents,
		WorkerPool:  8,
		Backlog:     512,
		LogEnable:   true,
		LogLevel:    logsink.LevelInfo,
		LogDir:      "./log",
		LogQueueCap: 1024,
		StaticRoot:  "resources",
	}
}

// connEntry is one live connection's table slot. conn itself is touched by
// at most one worker goroutine at a time (the one-shot discipline); busy
// and pending are touched only by the reactor goroutine, which is the sole
// writer of the conns map too — see Server's doc comment for the full
// shared-resource split.
type connEntry struct {
	conn *httpconn.Conn

	// busy is true from the moment a worker task is submitted for this fd
	// until its completion has been applied. The reactor consults it so a
	// timer expiry or a hangup event arriving while a worker still owns
	// the Conn defers teardown instead of racing the worker's socket I/O.
	busy bool

	// pending records that closeConn ran while busy was true: the actual
	// teardown (poller/timer/map/fd) happens once the outstanding
	// completion for this fd comes back.
	pending bool
}

// completionKind distinguishes a finished read task from a finished write
// task so applyCompletion knows which rearm/close rule to use.
type completionKind int

const (
	completionRead completionKind = iota
	completionWrite
)

// completion is everything a worker learns about one connection's socket
// I/O, carried back to the reactor goroutine instead of the worker acting
// on the connection table, timer, or multiplexer directly.
type completion struct {
	kind completionKind
	fd   int

	closed    bool // the connection should be torn down
	queued    bool // completionRead: Process() queued a response
	drained   bool // completionWrite: the full response was written
	keepAlive bool // completionWrite + drained: reuse the connection
}

// Server is the reactor: one goroutine runs the event loop; a worker pool
// runs per-connection socket I/O and request processing. The connection
// table, timer heap, and multiplexer are mutated only by the reactor
// goroutine — workers never call closeConn, poller.Modify, or touch the
// timer directly. A worker's result comes back as a completion over a
// channel, woken by a write to a self-pipe registered on the poller
// alongside the real sockets, so the reactor can keep blocking in a single
// epoll_wait for both readiness events and worker completions.
type Server struct {
	cfg Config

	listenFD     int
	listenEvent  epoller.EventMask
	connEvent    epoller.EventMask
	poller       *epoller.Poller
	timer        *timerheap.Heap
	workers      *workerpool.Pool
	db           *dbpool.Pool
	closeRequest chan struct{}
	closed       bool

	// mu guards conns: the reactor goroutine is the only writer, but
	// workers read it (by fd, never by iterating) to resolve a fd to its
	// *httpconn.Conn without trusting a pointer captured at submit time,
	// which could already have been torn down by an idle-timeout fire.
	mu    sync.RWMutex
	conns map[int]*connEntry

	completions chan completion
	wakeR       int
	wakeW       int
}

// New builds a Server from cfg without starting it: it opens the
// listening socket, the epoll instance, the worker pool, and the DB pool,
// any of which can fail.
func New(cfg Config) (*Server, error) {
	if cfg.LogEnable {
		if _, err := logsink.Init(cfg.LogLevel, cfg.LogDir, ".log", cfg.LogQueueCap, 0); err != nil {
			return nil, fmt.Errorf("reactorsrv: init log: %w", err)
		}
	}

	httpconn.StaticRoot = cfg.StaticRoot

	workerPool := cfg.WorkerPool
	if workerPool < 1 {
		workerPool = 1
	}

	s := &Server{
		cfg:          cfg,
		conns:        make(map[int]*connEntry),
		closeRequest: make(chan struct{}),
		completions:  make(chan completion, workerPool),
	}
	s.initEventMode()
	httpconn.EdgeTriggered = s.connEvent&epoller.EdgeTrig != 0

	poller, err := epoller.New(cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("reactorsrv: create epoll instance: %w", err)
	}
	s.poller = poller

	if err := s.initSocket(); err != nil {
		s.poller.Close()
		return nil, err
	}

	if err := s.initWakePipe(); err != nil {
		syscall.Close(s.listenFD)
		s.poller.Close()
		return nil, err
	}

	s.timer = timerheap.New()
	s.workers = workerpool.New(cfg.WorkerPool)

	if cfg.DB.Size > 0 {
		s.db = dbpool.New(cfg.DB)
		httpconn.DB = s.db
	}

	logsink.Infof("========== Server init ==========")
	logsink.Infof("Port:%d, OpenLinger: %t", cfg.Port, cfg.OptLinger)
	logsink.Infof("Listen mode: %s, Conn mode: %s", trigModeName(s.listenEvent), trigModeName(s.connEvent))
	logsink.Infof("WorkerPool num: %d", cfg.WorkerPool)

	return s, nil
}

// initEventMode sets listenEvent/connEvent from TriggerMode, matching
// InitEventMode_'s switch over trigMode 0..3.
func (s *Server) initEventMode() {
	s.listenEvent = epoller.HangUp
	s.connEvent = epoller.OneShot | epoller.HangUp

	switch s.cfg.TriggerMode {
	case 0:
	case 1:
		s.connEvent |= epoller.EdgeTrig
	case 2:
		s.listenEvent |= epoller.EdgeTrig
	default:
		s.listenEvent |= epoller.EdgeTrig
		s.connEvent |= epoller.EdgeTrig
	}
}

func trigModeName(mask epoller.EventMask) string {
	if mask&epoller.EdgeTrig != 0 {
		return "ET"
	}
	return "LT"
}

// initSocket creates, configures, binds, and listens on the server's TCP
// port, then registers it with the poller, following InitSocket_'s
// SO_LINGER / SO_REUSEADDR / bind / listen / non-blocking sequence. The
// backlog is Config.Backlog, or the original's 6 when that is unset.
func (s *Server) initSocket() error {
	if s.cfg.Port < 1024 || s.cfg.Port > 65535 {
		return fmt.Errorf("reactorsrv: port %d out of range", s.cfg.Port)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactorsrv: create socket: %w", err)
	}

	if s.cfg.OptLinger {
		linger := syscall.Linger{Onoff: 1, Linger: 1}
		if err := syscall.SetsockoptLinger(fd, syscall.SOL_SOCKET, syscall.SO_LINGER, &linger); err != nil {
			syscall.Close(fd)
			return fmt.Errorf("reactorsrv: set SO_LINGER: %w", err)
		}
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactorsrv: set SO_REUSEADDR: %w", err)
	}

	addr := syscall.SockaddrInet4{Port: s.cfg.Port}
	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactorsrv: bind port %d: %w", s.cfg.Port, err)
	}

	backlog := s.cfg.Backlog
	if backlog <= 0 {
		backlog = 6
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactorsrv: listen: %w", err)
	}

	if err := s.poller.Add(fd, s.listenEvent|epoller.Readable); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactorsrv: register listener: %w", err)
	}

	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactorsrv: set listener non-blocking: %w", err)
	}

	s.listenFD = fd
	return nil
}

// initWakePipe opens a non-blocking self-pipe and registers its read end
// with the poller, the classic trick (see
// _examples/joeycumines-go-utilpkg/eventloop/wakeup_linux.go's eventfd
// equivalent) for letting other goroutines wake a thread blocked in
// epoll_wait. A worker writes one byte after pushing a completion; the
// reactor drains the pipe and the completion channel together.
func (s *Server) initWakePipe() error {
	fds := make([]int, 2)
	if err := syscall.Pipe2(fds, syscall.O_NONBLOCK); err != nil {
		return fmt.Errorf("reactorsrv: create wake pipe: %w", err)
	}
	s.wakeR, s.wakeW = fds[0], fds[1]
	if err := s.poller.Add(s.wakeR, epoller.Readable); err != nil {
		syscall.Close(s.wakeR)
		syscall.Close(s.wakeW)
		return fmt.Errorf("reactorsrv: register wake pipe: %w", err)
	}
	return nil
}

// wake nudges the reactor out of epoll_wait. A full pipe means a wake is
// already pending and undrained, so EAGAIN here is not an error.
func (s *Server) wake() {
	var b [1]byte
	for {
		_, err := syscall.Write(s.wakeW, b[:])
		if err == syscall.EINTR {
			continue
		}
		return
	}
}

// Run drives the event loop until ctx is canceled or Stop is called, then
// shuts the server down. A fatal epoll wait failure stops the whole server
// via the errgroup and is returned as Run's error.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.requestClose()
		case <-s.closeRequest:
		}
		return nil
	})

	g.Go(func() error {
		return s.loop(ctx)
	})

	logsink.Infof("========== Server start ==========")
	err := g.Wait()
	s.shutdown()
	return err
}

func (s *Server) requestClose() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeRequest)
	s.wake()
}

// Stop requests the loop exit on its next iteration.
func (s *Server) Stop() {
	s.requestClose()
}

func (s *Server) loop(ctx context.Context) error {
	for {
		select {
		case <-s.closeRequest:
			return nil
		default:
		}

		timeoutMS := -1
		if s.cfg.TimeoutMS > 0 {
			timeoutMS = s.timer.NextTickMS()
		}

		n, err := s.poller.Wait(timeoutMS)
		if err != nil {
			logsink.Errorf("reactorsrv: epoll wait: %v", err)
			return fmt.Errorf("reactorsrv: epoll wait: %w", err)
		}

		s.timer.Tick()

		for i := 0; i < n; i++ {
			fd := s.poller.EventFD(i)
			mask := s.poller.EventMask(i)

			switch {
			case fd == s.listenFD:
				s.dealListen()
			case fd == s.wakeR:
				s.drainWake()
			case mask&(epoller.HangUp|epoller.ErrMask) != 0:
				s.closeConn(fd)
			case mask&epoller.Readable != 0:
				s.dealRead(fd)
			case mask&epoller.Writable != 0:
				s.dealWrite(fd)
			default:
				logsink.Warnf("reactorsrv: unexpected event mask %d on fd %d", mask, fd)
			}
		}
	}
}

// drainWake empties the self-pipe, then applies every completion a worker
// has posted since the last drain.
func (s *Server) drainWake() {
	var buf [64]byte
	for {
		n, err := syscall.Read(s.wakeR, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}

	for {
		select {
		case c := <-s.completions:
			s.applyCompletion(c)
		default:
			return
		}
	}
}

// dealListen accepts every pending connection (looping only while the
// listener is edge-triggered, matching DealListen_'s do/while on
// listenEvent_ & EPOLLET), installing each below MaxFD and rejecting the
// rest with the original's literal "Server busy!" text.
func (s *Server) dealListen() {
	for {
		nfd, sa, err := syscall.Accept(s.listenFD)
		if err != nil {
			return
		}

		s.mu.RLock()
		tableSize := len(s.conns)
		s.mu.RUnlock()

		if tableSize >= s.cfg.MaxFD {
			syscall.Write(nfd, httpconn.BuildBusyResponse())
			syscall.Close(nfd)
			logsink.Warnf("reactorsrv: connection table full, rejected fd %d", nfd)
			if s.listenEvent&epoller.EdgeTrig == 0 {
				return
			}
			continue
		}

		s.addClient(nfd, sa)

		if s.listenEvent&epoller.EdgeTrig == 0 {
			return
		}
	}
}

func (s *Server) addClient(fd int, sa syscall.Sockaddr) {
	syscall.SetNonblock(fd, true)

	peer := sockaddrToNetAddr(sa)
	conn := httpconn.New(fd, peer)
	entry := &connEntry{conn: conn}

	s.mu.Lock()
	s.conns[fd] = entry
	s.mu.Unlock()

	if s.cfg.TimeoutMS > 0 {
		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		s.timer.Add(fd, timeout, func() { s.closeConn(fd) })
	}

	if err := s.poller.Add(fd, s.connEvent|epoller.Readable); err != nil {
		logsink.Errorf("reactorsrv: register conn fd %d: %v", fd, err)
		s.closeConn(fd)
		return
	}

	logsink.Infof("Client[%d] in!", fd)
}

// closeConn runs only on the reactor goroutine. If the fd's worker task is
// still in flight it defers the actual teardown (pending=true) rather than
// racing the worker's in-progress socket I/O; applyCompletion finishes the
// job once that task reports back.
func (s *Server) closeConn(fd int) {
	s.mu.RLock()
	e, ok := s.conns[fd]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if e.busy {
		e.pending = true
		return
	}
	s.finishClose(fd, e)
}

// finishClose performs the real teardown: deregister from the poller and
// timer, drop the table entry, release the Conn. Only ever called when no
// worker owns fd's Conn.
func (s *Server) finishClose(fd int, e *connEntry) {
	logsink.Infof("Client[%d] quit!", fd)
	s.poller.Remove(fd)
	s.timer.Cancel(fd)
	s.mu.Lock()
	delete(s.conns, fd)
	s.mu.Unlock()
	if err := e.conn.Close(); err != nil {
		logsink.Warnf("reactorsrv: close fd %d: %v", fd, err)
	}
}

func (s *Server) extendTime(fd int) {
	if s.cfg.TimeoutMS > 0 {
		s.timer.Adjust(fd, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
	}
}

// lookupConn resolves fd to its Conn through the table rather than a
// pointer captured at submit time, so a worker that starts after the
// connection was already closed (idle timeout racing a saturated pool)
// sees a clean miss instead of touching a torn-down Conn.
func (s *Server) lookupConn(fd int) *httpconn.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.conns[fd]
	if !ok {
		return nil
	}
	return e.conn
}

func (s *Server) postCompletion(c completion) {
	s.completions <- c
	s.wake()
}

// dealRead marks fd busy and hands the read+process work to a worker,
// matching DealRead_'s ExtentTime_ + AddTask(OnRead_). All table/timer/mux
// mutation for this fd is deferred to applyCompletion on the reactor
// goroutine; the worker itself only touches the Conn and the completion
// channel.
func (s *Server) dealRead(fd int) {
	s.extendTime(fd)
	s.mu.RLock()
	e, ok := s.conns[fd]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.busy = true
	s.workers.Submit(func() { s.workerRead(fd) })
}

// workerRead runs off the reactor goroutine: it looks the Conn up fresh,
// drains the socket, and runs the parser/handler, mirroring OnRead_'s
// close condition exactly (close unless the non-positive read came back
// as EAGAIN) without itself touching the connection table, timer, or
// poller.
func (s *Server) workerRead(fd int) {
	conn := s.lookupConn(fd)
	if conn == nil {
		return
	}

	c := completion{kind: completionRead, fd: fd}
	n, err := conn.Read()
	if n <= 0 && err != syscall.EAGAIN {
		c.closed = true
	} else {
		c.queued = conn.Process()
	}
	s.postCompletion(c)
}

// dealWrite marks fd busy and hands the write work to a worker, matching
// DealWrite_'s ExtentTime_ + AddTask(OnWrite_).
func (s *Server) dealWrite(fd int) {
	s.extendTime(fd)
	s.mu.RLock()
	e, ok := s.conns[fd]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.busy = true
	s.workers.Submit(func() { s.workerWrite(fd) })
}

// workerWrite runs off the reactor goroutine: it looks the Conn up fresh,
// writes as much of the egress vector as the socket accepts, and resets
// connection state for the next request if the response drained on a
// keep-alive connection — all per-Conn work the one-shot discipline
// permits a worker to do without coordinating with the reactor.
func (s *Server) workerWrite(fd int) {
	conn := s.lookupConn(fd)
	if conn == nil {
		return
	}

	c := completion{kind: completionWrite, fd: fd}
	_, err := conn.Write()
	switch {
	case conn.Drained():
		c.drained = true
		c.keepAlive = conn.IsKeepAlive()
		if c.keepAlive {
			conn.ResetForNextRequest()
		}
	case err != nil:
		c.closed = true
	}
	s.postCompletion(c)
}

// applyCompletion runs on the reactor goroutine only: it is where every
// table/timer/mux mutation a worker's result implies actually happens.
func (s *Server) applyCompletion(c completion) {
	s.mu.RLock()
	e, ok := s.conns[c.fd]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.busy = false

	if e.pending {
		s.finishClose(c.fd, e)
		return
	}

	switch c.kind {
	case completionRead:
		if c.closed {
			s.finishClose(c.fd, e)
			return
		}
		if c.queued {
			s.poller.Modify(c.fd, s.connEvent|epoller.Writable)
		} else {
			s.poller.Modify(c.fd, s.connEvent|epoller.Readable)
		}
	case completionWrite:
		if c.closed {
			s.finishClose(c.fd, e)
			return
		}
		if c.drained {
			if c.keepAlive {
				s.poller.Modify(c.fd, s.connEvent|epoller.Readable)
				return
			}
			s.finishClose(c.fd, e)
			return
		}
		// Still has bytes queued but neither drained nor erroring:
		// EAGAIN, stay armed for WRITE.
		s.poller.Modify(c.fd, s.connEvent|epoller.Writable)
	}
}

func (s *Server) shutdown() {
	s.mu.RLock()
	fds := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		fds = append(fds, fd)
	}
	s.mu.RUnlock()
	for _, fd := range fds {
		s.closeConn(fd)
	}

	s.workers.Close()
	s.workers.Wait()

	// Everything still in the table at this point was busy when the first
	// pass ran: its worker task has since finished (Wait returned) but no
	// one applied the completion, since the loop goroutine has already
	// exited. Finish tearing those down directly.
	s.mu.RLock()
	remaining := make([]int, 0, len(s.conns))
	for fd := range s.conns {
		remaining = append(remaining, fd)
	}
	s.mu.RUnlock()
	for _, fd := range remaining {
		s.mu.RLock()
		e, ok := s.conns[fd]
		s.mu.RUnlock()
		if ok {
			s.finishClose(fd, e)
		}
	}

	if s.db != nil {
		s.db.Close()
	}
	syscall.Close(s.listenFD)
	syscall.Close(s.wakeR)
	syscall.Close(s.wakeW)
	s.poller.Close()
	logsink.Infof("========== Server stop ==========")
	logsink.L().Close()
}

func sockaddrToNetAddr(sa syscall.Sockaddr) net.Addr {
	if v4, ok := sa.(*syscall.SockaddrInet4); ok {
		return &net.TCPAddr{IP: net.IPv4(v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3]), Port: v4.Port}
	}
	return nil
}
