// Package logsink implements the process-global async log with level
// filtering and daily/size-based file rotation, grounded on
// original_source/code/log/log.cpp (rotation math and record framing) and
// original_source/code/log/blockqueue.h (the async write path).
package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/s00inx/reactorweb/internal/deque"
)

// Level is the log sink's filter threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) tag() string {
	switch l {
	case LevelDebug:
		return "[debug]: "
	case LevelInfo:
		return "[info] : "
	case LevelWarn:
		return "[warn] : "
	default:
		return "[error]: "
	}
}

// defaultMaxLines caps how many records land in one file before a
// rollover, matching the original's MAX_LINES.
const defaultMaxLines = 50000

// Sink is the async log writer. Init installs the process-wide instance
// retrieved by L(); tests may construct their own with New for isolation.
//
// Record lines get their exact on-disk framing from format(), not from
// zerolog — no pack encoder produces the original's plain-text
// "timestamp [tag]msg" shape. logger instead carries the sink's own
// operational diagnostics (rotation failures, degraded state) as
// structured events, so the dependency is exercised for what it's good
// at rather than fought into a shape it doesn't have.
type Sink struct {
	mu        sync.Mutex
	level     Level
	dir       string
	suffix    string
	maxLines  int
	today     int
	lineCount int
	rollCount int
	file      *os.File
	logger    zerolog.Logger

	queue *deque.Deque[string]
	wg    sync.WaitGroup
	now   func() time.Time
}

var (
	singleton   *Sink
	singletonMu sync.Mutex
)

// Init builds the process-wide sink. queueCapacity of 0 selects synchronous
// writes (every log call blocks until the line is on disk); a positive
// value starts a dedicated writer goroutine draining a Deque of that
// capacity. maxLines is the MAX_LINES rollover threshold; 0 or less
// selects defaultMaxLines.
func Init(level Level, dir, suffix string, queueCapacity, maxLines int) (*Sink, error) {
	s, err := New(level, dir, suffix, queueCapacity, maxLines)
	if err != nil {
		return nil, err
	}
	singletonMu.Lock()
	singleton = s
	singletonMu.Unlock()
	return s, nil
}

// L returns the process-wide sink, or a discard sink if Init was never
// called — keeping logsink.Debugf et al. safe to call from package init
// paths and tests that don't care about log output.
func L() *Sink {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = discard()
	}
	return singleton
}

func discard() *Sink {
	return &Sink{level: LevelError, logger: zerolog.New(zerologDiscard{}), maxLines: defaultMaxLines, now: time.Now}
}

type zerologDiscard struct{}

func (zerologDiscard) Write(p []byte) (int, error) { return len(p), nil }

// New builds a standalone Sink without installing it as the process
// singleton. maxLines is the MAX_LINES rollover threshold.
func New(level Level, dir, suffix string, queueCapacity, maxLines int) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logsink: create dir: %w", err)
	}
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	s := &Sink{
		level:    level,
		dir:      dir,
		suffix:   suffix,
		maxLines: maxLines,
		now:      time.Now,
	}
	if err := s.openForToday(); err != nil {
		return nil, err
	}
	if queueCapacity > 0 {
		s.queue = deque.New[string](queueCapacity)
		s.wg.Add(1)
		go s.drain()
	}
	return s, nil
}

func (s *Sink) fileName(rollSuffix bool) string {
	t := s.now()
	date := fmt.Sprintf("%04d_%02d_%02d", t.Year(), t.Month(), t.Day())
	if rollSuffix {
		return filepath.Join(s.dir, fmt.Sprintf("%s-%d%s", date, s.rollCount, s.suffix))
	}
	return filepath.Join(s.dir, date+s.suffix)
}

// openForToday opens the first file of the current calendar day (no -K
// suffix, matching the original's first-file-of-the-day naming).
func (s *Sink) openForToday() error {
	t := s.now()
	f, err := os.OpenFile(s.fileName(false), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logsink: open log file: %w", err)
	}
	s.file = f
	s.today = dayKey(t)
	s.lineCount = 0
	s.rollCount = 0
	s.logger = zerolog.New(f)
	return nil
}

// dayKey identifies t's calendar date (year, month and day together).
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// rotateIfNeeded reopens the log file when the calendar date has changed or
// the current file has reached maxLines, the same check as log.cpp's
// `toDay_ != t.tm_mday || (lineCount_ && lineCount_%MAX_LINES == 0)`, except
// that the whole date is compared rather than only the day of the month.
// Must be called with s.mu held.
func (s *Sink) rotateIfNeeded() {
	t := s.now()
	dayChanged := s.today != dayKey(t)
	linesFull := s.lineCount > 0 && s.lineCount%s.maxLines == 0

	if !dayChanged && !linesFull {
		return
	}

	if dayChanged {
		s.today = dayKey(t)
		s.lineCount = 0
		s.rollCount = 0
	} else {
		s.rollCount = s.lineCount / s.maxLines
	}

	_ = s.file.Close()
	f, err := os.OpenFile(s.fileName(!dayChanged || s.rollCount > 0), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// Persistent failure to open the rotated file is fatal at this
		// layer; the process has no other log destination.
		s.logger.Error().Err(err).Msg("rotate: open next log file")
		panic(fmt.Errorf("logsink: rotate: %w", err))
	}
	s.file = f
	s.logger = zerolog.New(f)
}

func (s *Sink) format(level Level, msg string) string {
	t := s.now()
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d %s%s\n",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1000,
		level.tag(), msg)
}

func (s *Sink) log(level Level, msg string) {
	if level < s.level {
		return
	}

	s.mu.Lock()
	s.rotateIfNeeded()
	line := s.format(level, msg)
	s.lineCount++
	s.mu.Unlock()

	if s.queue == nil {
		s.writeLine(line)
		return
	}
	s.queue.PushBack(line)
}

// writeLine appends an already-framed record line straight to the current
// file. Record framing is fixed by format(), not by zerolog: see the Sink
// doc comment for why the dependency sits elsewhere in this type.
func (s *Sink) writeLine(line string) {
	s.mu.Lock()
	f := s.file
	s.mu.Unlock()
	if _, err := f.WriteString(line); err != nil {
		s.logger.Error().Err(err).Msg("write log record")
	}
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		line, ok := s.queue.Pop()
		if !ok {
			return
		}
		s.writeLine(line)
	}
}

func (s *Sink) Debugf(format string, args ...any) { s.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (s *Sink) Infof(format string, args ...any)  { s.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (s *Sink) Warnf(format string, args ...any)  { s.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (s *Sink) Errorf(format string, args ...any) { s.log(LevelError, fmt.Sprintf(format, args...)) }

// Flush flushes the OS file buffer and, in async mode, nudges the writer
// goroutine to make progress.
func (s *Sink) Flush() {
	s.mu.Lock()
	f := s.file
	s.mu.Unlock()
	_ = f.Sync()
	if s.queue != nil {
		s.queue.Flush()
	}
}

// Close closes the write queue and joins the writer goroutine, draining
// every queued record before returning.
func (s *Sink) Close() error {
	if s.queue != nil {
		// Give the drain loop a chance to empty the queue before Close
		// clears it out from under it: Pop keeps returning queued items
		// until the deque is both closed and empty.
		for s.queue.Len() > 0 {
			time.Sleep(time.Millisecond)
		}
		s.queue.Close()
		s.wg.Wait()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Package-level helpers delegate to the process-wide singleton.
func Debugf(format string, args ...any) { L().Debugf(format, args...) }
func Infof(format string, args ...any)  { L().Infof(format, args...) }
func Warnf(format string, args ...any)  { L().Warnf(format, args...) }
func Errorf(format string, args ...any) { L().Errorf(format, args...) }
