package httpwire

import (
	"fmt"
	"strings"
)

// Header is one HTTP header field as it appeared on the wire, preserving
// order and duplicates so a multi-valued header (e.g. repeated Set-Cookie)
// round-trips faithfully.
type Header struct {
	Name  string
	Value string
}

// RequestLine is a parsed HTTP/1.1 request line and header block, used by
// the tunnel client to build an upstream request to the local service
// without needing to touch Body, which is forwarded unmodified regardless
// of the parse result here.
type RequestLine struct {
	Method  string
	Path    string
	Version string
	Headers []Header
}

// ParseRequestLine parses the start line and headers of head (as produced
// by ReadMessage / readHead). It never inspects Body.
func ParseRequestLine(head []byte) (RequestLine, error) {
	text := string(head)
	lines := strings.Split(text, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return RequestLine{}, fmt.Errorf("httpwire: empty request line")
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, fmt.Errorf("httpwire: malformed request line %q", lines[0])
	}

	rl := RequestLine{Method: parts[0], Path: parts[1], Version: strings.TrimRight(parts[2], "\r")}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		rl.Headers = append(rl.Headers, Header{
			Name:  strings.TrimSpace(line[:idx]),
			Value: strings.TrimSpace(line[idx+1:]),
		})
	}
	return rl, nil
}

// HeaderValue returns the first value of the named header (case
// insensitive), and whether it was present.
func (rl RequestLine) HeaderValue(name string) (string, bool) {
	for _, h := range rl.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// IsMultipartFormData reports whether the request's Content-Type is
// multipart/form-data, in which case the body must be forwarded as raw
// bytes without any re-encoding: multipart boundaries are byte-exact and
// re-encoding risks corrupting them.
func (rl RequestLine) IsMultipartFormData() bool {
	ct, ok := rl.HeaderValue("Content-Type")
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.ToLower(ct), "multipart/form-data")
}
