package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSyncWriteAndFraming(t *testing.T) {
	dir := t.TempDir()
	s, err := New(LevelInfo, dir, ".log", 0, defaultMaxLines)
	require.NoError(t, err)
	defer s.Close()

	s.Infof("hello %s", "world")
	s.Debugf("should be filtered out")

	content := readFile(t, s.fileName(false))
	assert.Contains(t, content, "[info] : hello world")
	assert.NotContains(t, content, "should be filtered")
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6} \[info\] :`, content)
}

// TestLineCountRotationScenario checks that with MAX_LINES=10, 25 records
// on one calendar day land in three files of 10/10/5 records, in order:
// the day's unsuffixed file (file 0), then the -1 and -2 roll files.
func TestLineCountRotationScenario(t *testing.T) {
	dir := t.TempDir()
	s, err := New(LevelInfo, dir, ".log", 0, 10)
	require.NoError(t, err)
	defer s.Close()

	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day }

	for i := 0; i < 25; i++ {
		s.Infof("record %d", i)
	}

	first := readFile(t, filepath.Join(dir, "2026_03_01.log"))
	second := readFile(t, filepath.Join(dir, "2026_03_01-1.log"))
	third := readFile(t, filepath.Join(dir, "2026_03_01-2.log"))

	firstLines := strings.Split(strings.TrimSpace(first), "\n")
	secondLines := strings.Split(strings.TrimSpace(second), "\n")
	thirdLines := strings.Split(strings.TrimSpace(third), "\n")

	require.Len(t, firstLines, 10)
	require.Len(t, secondLines, 10)
	require.Len(t, thirdLines, 5)

	for i := 0; i < 10; i++ {
		assert.Contains(t, firstLines[i], fmt.Sprintf("record %d", i))
	}
	for i := 0; i < 10; i++ {
		assert.Contains(t, secondLines[i], fmt.Sprintf("record %d", i+10))
	}
	for i := 0; i < 5; i++ {
		assert.Contains(t, thirdLines[i], fmt.Sprintf("record %d", i+20))
	}
}

func TestDayRollover(t *testing.T) {
	dir := t.TempDir()
	s, err := New(LevelDebug, dir, ".log", 0, defaultMaxLines)
	require.NoError(t, err)
	defer s.Close()

	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day1 }
	s.Infof("day one")

	day2 := day1.Add(24 * time.Hour)
	s.now = func() time.Time { return day2 }
	s.Infof("day two")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "2026_01_01.log")
	assert.Contains(t, names, "2026_01_02.log")
}

// TestAsyncDrainPreservesOrder checks that a graceful shutdown drains every
// queued record, in submission order, before Close returns.
func TestAsyncDrainPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	s, err := New(LevelDebug, dir, ".log", 64, defaultMaxLines)
	require.NoError(t, err)

	const n = 1000
	for i := range n {
		s.Infof("record %d", i)
	}
	require.NoError(t, s.Close())

	content := readFile(t, s.fileName(false))
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, n)
	for i, line := range lines {
		assert.Contains(t, line, fmt.Sprintf("record %d", i))
	}
}

func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	s, err := New(LevelWarn, dir, ".log", 0, defaultMaxLines)
	require.NoError(t, err)
	defer s.Close()

	s.Debugf("debug")
	s.Infof("info")
	s.Warnf("warn")
	s.Errorf("error")

	content := readFile(t, s.fileName(false))
	assert.NotContains(t, content, "debug")
	assert.NotContains(t, content, "]: info")
	assert.Contains(t, content, "warn")
	assert.Contains(t, content, "error")
}
