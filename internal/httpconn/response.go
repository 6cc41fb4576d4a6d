package httpconn

import "fmt"

// statusTable mirrors the flat array-of-status-lines lookup in
// _examples/s00inx-goserver/server/protocol/builder.go: a fixed list of
// codes is cheaper and branch-predictor-friendlier than a map for a
// closed set of values.
var statusTable = [505]string{
	200: "200 OK",
	201: "201 Created",
	204: "204 No Content",

	301: "301 Moved Permanently",
	302: "302 Found",
	304: "304 Not Modified",

	400: "400 Bad Request",
	401: "401 Unauthorized",
	403: "403 Forbidden",
	404: "404 Not Found",
	405: "405 Method Not Allowed",
	408: "408 Request Timeout",
	413: "413 Payload Too Large",

	500: "500 Internal Server Error",
	501: "501 Not Implemented",
	503: "503 Service Unavailable",
}

func statusLine(code int) string {
	if code < 0 || code >= len(statusTable) || statusTable[code] == "" {
		return "500 Internal Server Error"
	}
	return statusTable[code]
}

// writeHeaders formats the status line and header block for resp into
// out, leaving out's write cursor advanced past the trailing blank line.
// Body (if any) is appended immediately after; file bodies are left for
// the caller to mmap and hand to Write separately.
func (c *Conn) writeHeaders(status int, contentType string, contentLength int) {
	c.out.Append([]byte("HTTP/1.1 "))
	c.out.Append([]byte(statusLine(status)))
	c.out.Append([]byte("\r\n"))

	c.out.Append([]byte("Content-Type: "))
	c.out.Append([]byte(contentType))
	c.out.Append([]byte("\r\n"))

	c.out.Append([]byte("Content-Length: "))
	c.out.Append([]byte(fmt.Sprintf("%d", contentLength)))
	c.out.Append([]byte("\r\n"))

	if c.keepAlive {
		c.out.Append([]byte("Connection: keep-alive\r\n"))
	} else {
		c.out.Append([]byte("Connection: close\r\n"))
	}

	c.out.Append([]byte("\r\n"))
}

// buildErrorResponse queues a minimal text/plain error response with no
// file body, and disables keep-alive since the connection state after a
// parse error is not trustworthy enough to reuse.
func (c *Conn) buildErrorResponse(status int) {
	c.keepAlive = false
	body := []byte(statusLine(status))
	c.writeHeaders(status, "text/plain", len(body))
	c.out.Append(body)
}

// BuildBusyResponse returns the reply sent to a connection rejected for exceeding the
// server's MAX_FD limit, matching the original's literal "Server busy!"
// text on a connection that is closed immediately after.
func BuildBusyResponse() []byte {
	const msg = "Server busy!"
	return []byte(fmt.Sprintf(
		"HTTP/1.1 503 Service Unavailable\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(msg), msg))
}
