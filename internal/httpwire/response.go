package httpwire

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusLine is a parsed HTTP/1.1 status line and header block, as
// returned by a local upstream service and relayed back to the frontend.
type StatusLine struct {
	Version string
	Status  int
	Reason  string
	Headers []Header
}

// ParseStatusLine parses the start line and headers of head.
func ParseStatusLine(head []byte) (StatusLine, error) {
	text := string(head)
	lines := strings.Split(text, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return StatusLine{}, fmt.Errorf("httpwire: empty status line")
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, fmt.Errorf("httpwire: malformed status line %q", lines[0])
	}

	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, fmt.Errorf("httpwire: malformed status code %q: %w", parts[1], err)
	}

	sl := StatusLine{Version: parts[0], Status: status}
	if len(parts) == 3 {
		sl.Reason = strings.TrimRight(parts[2], "\r")
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		sl.Headers = append(sl.Headers, Header{
			Name:  strings.TrimSpace(line[:idx]),
			Value: strings.TrimSpace(line[idx+1:]),
		})
	}
	return sl, nil
}

// BuildResponse assembles a verbatim HTTP/1.1 response message from a
// status line, reason phrase, a set of headers, and a body. Any
// Transfer-Encoding header is dropped (chunked responses are not
// supported downstream of this relay) and Content-Length is set to the
// exact body length, overriding any caller-supplied value, so the
// assembled message is always self-consistent.
func BuildResponse(status int, reason string, headers []Header, body []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)

	wroteContentLength := false
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Transfer-Encoding") {
			continue
		}
		if strings.EqualFold(h.Name, "Content-Length") {
			if wroteContentLength {
				continue
			}
			wroteContentLength = true
			fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	if !wroteContentLength {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(body))
	out = append(out, []byte(b.String())...)
	out = append(out, body...)
	return out
}

// StatusText returns a reasonable reason phrase for status, falling back
// to a generic placeholder for nonstandard codes.
func StatusText(status int) string {
	if text, ok := commonStatusText[status]; ok {
		return text
	}
	return "Status"
}

var commonStatusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	413: "Payload Too Large",
	429: "Too Many Requests",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}
