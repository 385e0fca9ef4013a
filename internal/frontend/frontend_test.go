package frontend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net"
	"testing"
	"time"

	"github.com/edgetunnel/edgetunnel/internal/httpwire"
	"github.com/edgetunnel/edgetunnel/internal/tunnel"
)

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	srv := New(Config{
		HTTPAddr:        "127.0.0.1:0",
		TunnelAddr:      "127.0.0.1:0",
		Secret:          []byte("test-secret"),
		RequestTimeout:  2 * time.Second,
		EvictionMaxIdle: time.Hour,
		SweepInterval:   time.Hour,
	})

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen http: %v", err)
	}
	tunnelLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tunnel: %v", err)
	}
	srv.cfg.HTTPAddr = httpLn.Addr().String()
	srv.cfg.TunnelAddr = tunnelLn.Addr().String()
	httpLn.Close()
	tunnelLn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	// Give the listeners a moment to bind.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.Dial("tcp", srv.cfg.HTTPAddr)
		if err == nil {
			c.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return srv, func() { cancel() }
}

func dialTunnelAndRegister(t *testing.T, srv *Server, clientID string) *tunnel.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", srv.cfg.TunnelAddr)
	if err != nil {
		t.Fatalf("dial tunnel: %v", err)
	}
	tc := tunnel.NewConn(nc, srv.cfg.Secret)
	if err := tc.WriteFrame(&tunnel.RegisterFrame{Type: string(tunnel.FrameTypeRegister), ClientID: clientID}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return tc
}

func TestHTTPRequestForwardedToTunnelClient(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	tc := dialTunnelAndRegister(t, srv, "client-a")
	defer tc.Close()

	// Give registration time to land in the registry.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.Registry.Len() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Registry.Len() != 1 {
		t.Fatalf("expected 1 registered client, got %d", srv.Registry.Len())
	}

	// Tunnel client side: read the forwarded request, reply with a response.
	go func() {
		payload, err := tc.ReadPayload()
		if err != nil {
			return
		}
		var req tunnel.RequestFrame
		if err := tunnel.DecodeFrame(payload, &req); err != nil {
			payload.Close()
			return
		}
		payload.Close()

		respBody := httpwire.BuildResponse(200, "OK", nil, []byte("pong"))
		tc.WriteFrame(&tunnel.ResponseFrame{
			RequestID: req.ID,
			Data:      base64.StdEncoding.EncodeToString(respBody),
		})
	}()

	conn, err := net.Dial("tcp", srv.cfg.HTTPAddr)
	if err != nil {
		t.Fatalf("dial http: %v", err)
	}
	defer conn.Close()

	req := "GET /ping HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(conn)
	msg, err := httpwire.ReadMessage(br)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !bytes.Equal(msg.Body, []byte("pong")) {
		t.Fatalf("unexpected response body: %q", msg.Body)
	}
}

func TestHTTPRequestWithNoClientReturns503(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", srv.cfg.HTTPAddr)
	if err != nil {
		t.Fatalf("dial http: %v", err)
	}
	defer conn.Close()

	req := "GET / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n"
	io.WriteString(conn, req)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(conn)
	sl, err := httpwire.ParseStatusLine(mustReadHead(t, br))
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if sl.Status != 503 {
		t.Fatalf("expected 503, got %d", sl.Status)
	}
}

func TestChunkedRequestReturns501(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", srv.cfg.HTTPAddr)
	if err != nil {
		t.Fatalf("dial http: %v", err)
	}
	defer conn.Close()

	req := "POST / HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n"
	io.WriteString(conn, req)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(conn)
	sl, err := httpwire.ParseStatusLine(mustReadHead(t, br))
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if sl.Status != 501 {
		t.Fatalf("expected 501, got %d", sl.Status)
	}
}

func TestMissingContentLengthReturns400(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", srv.cfg.HTTPAddr)
	if err != nil {
		t.Fatalf("dial http: %v", err)
	}
	defer conn.Close()

	req := "POST /upload HTTP/1.1\r\nHost: example.com\r\n\r\nnotfullysent"
	io.WriteString(conn, req)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	br := bufio.NewReader(conn)
	sl, err := httpwire.ParseStatusLine(mustReadHead(t, br))
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if sl.Status != 400 {
		t.Fatalf("expected 400, got %d", sl.Status)
	}
}

func mustReadHead(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()
	var head []byte
	for {
		line, err := br.ReadBytes('\n')
		head = append(head, line...)
		if err != nil {
			t.Fatalf("read head: %v", err)
		}
		if bytes.HasSuffix(head, []byte("\r\n\r\n")) {
			return head
		}
	}
}
