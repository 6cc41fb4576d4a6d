package httpconn

import (
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

var extContentType = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".txt":  "text/plain",
}

func contentTypeFor(name string) string {
	if ct, ok := extContentType[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// resolveStaticPath joins StaticRoot with the request path. A request path
// with any ".." segment is rejected outright (path traversal), as is any
// result that still lands outside StaticRoot after cleaning.
// An empty or "/" path maps to index.html.
func resolveStaticPath(reqPath string) (string, bool) {
	for _, seg := range strings.Split(reqPath, "/") {
		if seg == ".." {
			return "", false
		}
	}
	clean := path.Clean("/" + reqPath)
	if clean == "/" {
		clean = "/index.html"
	}

	full := filepath.Join(StaticRoot, filepath.FromSlash(clean))
	root, err := filepath.Abs(StaticRoot)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", false
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// serveStatic stats and mmaps the resolved file, queuing a 200 response
// with the file as the egress body; 404 if it doesn't exist, 403 if it
// can't be read or is a directory.
func (c *Conn) serveStatic(reqPath string) {
	fullPath, ok := resolveStaticPath(reqPath)
	if !ok {
		c.buildErrorResponse(403)
		return
	}

	fd, err := syscall.Open(fullPath, syscall.O_RDONLY, 0)
	if err != nil {
		if err == syscall.EACCES {
			c.buildErrorResponse(403)
			return
		}
		c.buildErrorResponse(404)
		return
	}
	defer syscall.Close(fd)

	var stat syscall.Stat_t
	if err := syscall.Fstat(fd, &stat); err != nil || stat.Mode&syscall.S_IFDIR != 0 {
		c.buildErrorResponse(403)
		return
	}

	size := int(stat.Size)
	if size == 0 {
		c.writeHeaders(200, contentTypeFor(fullPath), 0)
		return
	}

	mapped, err := syscall.Mmap(fd, 0, size, syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		c.buildErrorResponse(403)
		return
	}

	c.fileBody = mapped
	c.writeHeaders(200, contentTypeFor(fullPath), size)
}
