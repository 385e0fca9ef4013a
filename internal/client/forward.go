package client

import (
	"bufio"
	"bytes"
	"net"
	"net/url"
	"strings"
	"time"

	rhttperrors "github.com/WhileEndless/go-rawhttp/v2/pkg/errors"

	"github.com/edgetunnel/edgetunnel/internal/httpwire"
)

// forwardToLocalService parses the request wire bytes received from the
// frontend, composes the local target URL from the configured base URL and
// the request line's path, and relays it to the local HTTP service. Only
// the envelope (request line, headers) is reconstructed; the body is
// always forwarded as the verbatim bytes the frontend sent, which is what
// lets multipart/form-data uploads and arbitrary binary payloads survive
// the relay unchanged.
//
// On any transport failure before a response is received, the error is
// classified using go-rawhttp's error taxonomy so the caller can log a
// useful diagnostic, even though the synthesized response status is always
// 500 per the protocol's error handling design.
func (c *Client) forwardToLocalService(requestBytes []byte) ([]byte, error) {
	msg, err := httpwire.ReadMessage(bufio.NewReader(bytes.NewReader(requestBytes)))
	if err != nil {
		return nil, rhttperrors.NewProtocolError("parse request from frontend", err)
	}
	rl, err := httpwire.ParseRequestLine(msg.Head)
	if err != nil {
		return nil, rhttperrors.NewProtocolError("parse request line", err)
	}

	base, err := url.Parse(c.cfg.LocalBaseURL)
	if err != nil {
		return nil, rhttperrors.NewValidationError("local-base-url: " + err.Error())
	}
	targetPath := strings.TrimSuffix(base.Path, "/") + rl.Path

	dialer := net.Dialer{Timeout: c.cfg.LocalDialTimeout}
	conn, err := dialer.Dial("tcp", base.Host)
	if err != nil {
		host, port := splitHostPort(base.Host)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, rhttperrors.NewTimeoutError("dial local service", c.cfg.LocalDialTimeout)
		}
		return nil, rhttperrors.NewConnectionError(host, port, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.cfg.LocalRequestTimeout))

	head := rebuildRequestHead(rl, targetPath)
	if _, err := conn.Write(head); err != nil {
		return nil, rhttperrors.NewIOError("writing request head to local service", err)
	}
	if len(msg.Body) > 0 {
		if _, err := conn.Write(msg.Body); err != nil {
			return nil, rhttperrors.NewIOError("writing request body to local service", err)
		}
	}

	resp, err := httpwire.ReadMessage(newBufReader(conn))
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, rhttperrors.NewTimeoutError("read response from local service", c.cfg.LocalRequestTimeout)
		}
		return nil, rhttperrors.NewIOError("reading response from local service", err)
	}

	return resp.Bytes(), nil
}

// rebuildRequestHead writes a request line using targetPath (the composed
// local URL path) in place of rl.Path, followed by the original headers
// verbatim and the trailing blank line. Header values, including the
// original Host, are passed through unchanged, matching the original
// implementation's behavior of forwarding headers as received.
func rebuildRequestHead(rl httpwire.RequestLine, targetPath string) []byte {
	var b bytes.Buffer
	b.WriteString(rl.Method)
	b.WriteByte(' ')
	b.WriteString(targetPath)
	b.WriteByte(' ')
	b.WriteString(rl.Version)
	b.WriteString("\r\n")
	for _, h := range rl.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// splitHostPort best-effort splits addr for error reporting; an
// unparseable address is reported as the whole string with port 0.
func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	var port int
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return host, 0
		}
		port = port*10 + int(r-'0')
	}
	return host, port
}
