// Package dbpool implements the fixed-size pool of pre-opened MySQL
// connections handed out under a counting semaphore, grounded on
// original_source/code/pool/sqlconnpool.cpp.
package dbpool

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/semaphore"

	"github.com/s00inx/reactorweb/internal/logsink"
)

// Config names the MySQL endpoint and the number of connections to
// pre-open.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Size     int
}

// Pool is a FIFO of raw driver.Conn handles guarded by a counting
// semaphore plus a mutex. The semaphore decouples "is a handle available"
// signaling from the critical section that pops the FIFO, so waiters never
// hold the mutex while blocked.
type Pool struct {
	mu   sync.Mutex
	free []driver.Conn
	sem  *semaphore.Weighted
	size int64
}

// New opens n connections in sequence and returns a Pool seeded with
// whichever succeed. A connection failure is logged, not fatal — the pool
// degrades by fewer available handles, matching the original's behavior
// where mysql_real_connect failures only LOG_ERROR.
func New(cfg Config) *Pool {
	connector, err := mysql.NewConnector(&mysql.Config{
		User:                 cfg.User,
		Passwd:               cfg.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DBName:               cfg.Database,
		AllowNativePasswords: true,
	})
	if err != nil {
		logsink.Errorf("dbpool: build connector: %v", err)
	}

	p := &Pool{
		sem:  semaphore.NewWeighted(int64(cfg.Size)),
		size: int64(cfg.Size),
	}
	if connector == nil {
		return p
	}

	for i := 0; i < cfg.Size; i++ {
		conn, err := connector.Connect(context.Background())
		if err != nil {
			logsink.Errorf("dbpool: connect %d/%d: %v", i+1, cfg.Size, err)
			continue
		}
		p.free = append(p.free, conn)
	}
	// Unavailable slots (failed connects) must not be acquirable: drop the
	// semaphore's capacity to match how many handles actually exist.
	if missing := cfg.Size - len(p.free); missing > 0 {
		p.sem = semaphore.NewWeighted(int64(len(p.free)))
		p.size = int64(len(p.free))
	}
	return p
}

// Acquire waits on the semaphore first, then locks the mutex and pops the
// front handle. This ordering (semaphore-wait before mutex-acquire) fixes
// the race in the original's GetConn, which checked the queue for
// emptiness unlocked before waiting on the semaphore.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		// Reached when New could not build the connector (the semaphore
		// keeps its configured size with no handles behind it) or after
		// Close emptied the FIFO; give the slot back and fail loud.
		p.sem.Release(1)
		return nil, fmt.Errorf("dbpool: no handle available")
	}
	conn := p.free[0]
	p.free = p.free[1:]
	return conn, nil
}

// Release returns conn to the pool and posts the semaphore.
func (p *Pool) Release(conn driver.Conn) {
	p.mu.Lock()
	p.free = append(p.free, conn)
	p.mu.Unlock()
	p.sem.Release(1)
}

// WithHandle acquires a handle, runs fn, and always releases it, so a
// panic or early return in fn can never leak a checked-out connection.
func (p *Pool) WithHandle(ctx context.Context, fn func(driver.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// Close drains the FIFO, closing each handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, conn := range p.free {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.free = nil
	return firstErr
}

// Size reports the pool's configured capacity (handles that exist, not
// handles currently free).
func (p *Pool) Size() int64 { return p.size }
