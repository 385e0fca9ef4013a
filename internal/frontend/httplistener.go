package frontend

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/edgetunnel/edgetunnel/internal/httpwire"
	"github.com/edgetunnel/edgetunnel/internal/tunnel"
)

// serveHTTP accepts public internet connections and forwards each request
// to whatever tunnel client is currently connected. The accept loop is
// gated by a token bucket plus a bounded semaphore, the same pattern used
// by reverse-tunnel accept loops elsewhere in the ecosystem: a burst of
// connection attempts beyond the configured rate is dropped at the TCP
// level rather than allowed to pile up goroutines.
func (s *Server) serveHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	limiter := rate.NewLimiter(s.cfg.AcceptRateLimit, s.cfg.AcceptBurst)
	sem := make(chan struct{}, s.cfg.MaxPendingAccept)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !limiter.Allow() {
			conn.Close()
			continue
		}

		select {
		case sem <- struct{}{}:
		default:
			conn.Close()
			continue
		}

		go func() {
			defer func() { <-sem }()
			s.handleHTTPConn(conn)
		}()
	}
}

// handleHTTPConn reads exactly one HTTP/1.1 request off conn, forwards it
// over the tunnel, and writes back whatever response (or synthesized
// error response) results. One request per connection matches the
// protocol's non-goal of keep-alive/pipelining on the public side.
func (s *Server) handleHTTPConn(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	br := newBufReader(conn)

	msg, _, err := httpwire.ReadRequestMessage(br)
	if err != nil {
		if errors.Is(err, httpwire.ErrChunkedUnsupported) {
			writeRawResponse(conn, 501, "Not Implemented", []byte("chunked transfer-encoding is not supported"))
			return
		}
		if errors.Is(err, httpwire.ErrMalformedRequest) {
			writeRawResponse(conn, 400, "Bad Request", []byte("malformed request: "+err.Error()))
			return
		}
		return
	}
	conn.SetReadDeadline(time.Time{})

	client, ok := s.Registry.Any()
	if !ok {
		writeRawResponse(conn, 503, "Service Unavailable", []byte("no tunnel client is currently connected"))
		return
	}

	reqID := uuid.New().String()
	waitCh, err := s.Pending.Add(reqID)
	if err != nil {
		writeRawResponse(conn, 500, "Internal Server Error", []byte("duplicate request id"))
		return
	}

	frame := &tunnel.RequestFrame{
		ID:         reqID,
		Data:       base64.StdEncoding.EncodeToString(msg.Bytes()),
		ClientAddr: conn.RemoteAddr().String(),
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
	}

	if err := client.Conn.WriteFrame(frame); err != nil {
		s.Pending.Cancel(reqID)
		s.Registry.Unregister(client.ID, client)
		writeRawResponse(conn, 500, "Internal Server Error", []byte("failed to reach tunnel client"))
		return
	}

	select {
	case resp := <-waitCh:
		raw, err := base64.StdEncoding.DecodeString(resp.Data)
		if err != nil {
			writeRawResponse(conn, 500, "Internal Server Error", []byte("malformed response from tunnel client"))
			return
		}
		if _, err := conn.Write(raw); err != nil {
			log.Printf("frontend: write response for %s: %v", reqID, err)
		}
	case <-time.After(s.cfg.RequestTimeout):
		s.Pending.Cancel(reqID)
		writeRawResponse(conn, 504, "Gateway Timeout", []byte("tunnel client did not respond in time"))
	}
}

func writeRawResponse(w io.Writer, status int, reason string, body []byte) {
	w.Write(httpwire.BuildResponse(status, reason, nil, body))
}
