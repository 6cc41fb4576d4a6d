package httpconn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStaticRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := StaticRoot
	StaticRoot = dir
	t.Cleanup(func() { StaticRoot = old })
	return dir
}

func TestResolveStaticPathIndexDefault(t *testing.T) {
	root := withStaticRoot(t)
	full, ok := resolveStaticPath("/")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "index.html"), full)
}

func TestResolveStaticPathRejectsTraversal(t *testing.T) {
	withStaticRoot(t)
	_, ok := resolveStaticPath("/../../etc/passwd")
	assert.False(t, ok)
}

func TestServeStaticReturns200ForExistingFile(t *testing.T) {
	root := withStaticRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0o644))

	c := newTestConn()
	c.serveStatic("/hello.txt")

	assert.Equal(t, []byte("hi there"), c.fileBody)
	assert.Contains(t, string(c.out.Peek()), "200 OK")
	assert.Contains(t, string(c.out.Peek()), "Content-Length: 8")
	c.unmapFile()
}

func TestServeStaticReturns404ForMissingFile(t *testing.T) {
	withStaticRoot(t)
	c := newTestConn()
	c.serveStatic("/nope.txt")
	assert.Contains(t, string(c.out.Peek()), "404 Not Found")
}

func TestServeStaticReturns403ForDirectory(t *testing.T) {
	root := withStaticRoot(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	c := newTestConn()
	c.serveStatic("/sub")
	assert.Contains(t, string(c.out.Peek()), "403 Forbidden")
}

func TestContentTypeForExtension(t *testing.T) {
	assert.Equal(t, "text/html", contentTypeFor("index.html"))
	assert.Equal(t, "text/css", contentTypeFor("style.css"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("blob.bin"))
}
