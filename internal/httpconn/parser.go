package httpconn

import (
	"bytes"
	"errors"
)

// errIncomplete signals the ingress buffer does not yet hold a complete
// unit (request line, header line, or body) — the caller should yield
// and wait for more data, not treat this as malformed input.
var errIncomplete = errors.New("httpconn: incomplete")

// errInvalid signals a malformed request line, header, or request-line
// terminator.
var errInvalid = errors.New("httpconn: invalid request")

// parse runs the pull parser over the ingress buffer's readable region,
// advancing through REQUEST_LINE -> HEADERS -> BODY -> FINISH. Returns
// true once Request is fully populated and ready for handle(); false if
// more input is required (errIncomplete is swallowed, not surfaced).
func (c *Conn) parse() (bool, error) {
	raw := c.in.Peek()

	consumed, err := c.parseOne(raw)
	if err != nil {
		if errors.Is(err, errIncomplete) {
			return false, nil
		}
		return false, err
	}

	c.in.Consume(consumed)
	c.state = StateFinish
	return true, nil
}

// parseOne parses one complete HTTP/1.1 request out of raw, returning the
// number of bytes consumed. Mirrors parseRaw in
// _examples/s00inx-goserver/server/protocol/parser.go: a single pass
// advancing a cursor, returning errIncomplete the moment a needed
// delimiter isn't yet present so the caller can retry once more data
// arrives.
func (c *Conn) parseOne(raw []byte) (int, error) {
	crs := 0

	findsep := func(start int, sep byte) int {
		idx := bytes.IndexByte(raw[start:], sep)
		if idx == -1 {
			return -1
		}
		return start + idx
	}

	sep := findsep(crs, ' ')
	if sep == -1 {
		return 0, errIncomplete
	}
	method := string(raw[crs:sep])
	crs = sep + 1

	sep = findsep(crs, ' ')
	if sep == -1 {
		return 0, errIncomplete
	}
	path := string(raw[crs:sep])
	crs = sep + 1

	sep = findsep(crs, '\n')
	if sep == -1 {
		return 0, errIncomplete
	}
	if sep == crs || raw[sep-1] != '\r' {
		return 0, errInvalid
	}
	version := string(raw[crs : sep-1])
	crs = sep + 1

	c.state = StateHeaders
	headers := make(map[string]string, 8)
	contentLen := 0
	for {
		if crs+1 >= len(raw) {
			return 0, errIncomplete
		}
		if raw[crs] == '\r' && raw[crs+1] == '\n' {
			crs += 2
			break
		}

		lf := findsep(crs, '\n')
		if lf == -1 {
			return 0, errIncomplete
		}
		if lf == crs || raw[lf-1] != '\r' {
			return 0, errInvalid
		}
		lineEnd := lf - 1

		colon := findsep(crs, ':')
		if colon == -1 || colon > lineEnd {
			return 0, errInvalid
		}

		valStart := colon + 1
		for valStart < lineEnd && raw[valStart] == ' ' {
			valStart++
		}

		key := string(raw[crs:colon])
		val := string(raw[valStart:lineEnd])
		headers[canonicalHeaderKey(key)] = val

		if canonicalHeaderKey(key) == "Content-Length" {
			for _, ch := range val {
				if ch >= '0' && ch <= '9' {
					contentLen = contentLen*10 + int(ch-'0')
				}
			}
		}

		crs = lf + 1
	}

	c.state = StateBody
	var body []byte
	if contentLen > 0 {
		if crs+contentLen > len(raw) {
			return 0, errIncomplete
		}
		body = make([]byte, contentLen)
		copy(body, raw[crs:crs+contentLen])
		crs += contentLen
	}

	c.req = Request{
		Method:  method,
		Path:    path,
		Version: version,
		Headers: headers,
		Body:    body,
	}
	c.keepAlive = isKeepAlive(version, headers["Connection"])
	return crs, nil
}

func isKeepAlive(version, connectionHeader string) bool {
	switch connectionHeader {
	case "close":
		return false
	case "keep-alive":
		return true
	}
	return version == "HTTP/1.1"
}

// canonicalHeaderKey normalizes "content-length" / "Content-Length" /
// "CONTENT-LENGTH" to the same map key without pulling in net/http's
// canonicalization (which expects its own MIMEHeader type).
func canonicalHeaderKey(key string) string {
	b := []byte(key)
	upperNext := true
	for i, c := range b {
		switch {
		case c == '-':
			upperNext = true
		case upperNext:
			if c >= 'a' && c <= 'z' {
				b[i] = c - 'a' + 'A'
			}
			upperNext = false
		default:
			if c >= 'A' && c <= 'Z' {
				b[i] = c - 'A' + 'a'
			}
		}
	}
	return string(b)
}
