package frontend

import (
	"context"
	"log"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgetunnel/edgetunnel/internal/tunnel"
)

// serveTunnel accepts connections from tunnel clients, gated by the same
// rate-limit-plus-semaphore pattern as serveHTTP.
func (s *Server) serveTunnel(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.TunnelAddr)
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
			s.handleTunnelConn(conn)
		}()
	}
}

// handleTunnelConn expects the very first frame on conn to be a
// registration frame; anything else is a protocol violation and the
// connection is dropped. After registration, every subsequent frame on
// this connection is a response frame (the wire protocol has no "type"
// tag outside registration — C never sends anything else to F), so no
// further type sniffing is needed.
func (s *Server) handleTunnelConn(nc net.Conn) {
	tc := tunnel.NewConn(nc, s.cfg.Secret)

	tc.SetReadDeadline(time.Now().Add(30 * time.Second))
	firstPayload, err := tc.ReadPayload()
	if err != nil {
		tc.Close()
		return
	}
	isRegister, err := tunnel.IsRegisterPayload(firstPayload)
	if err != nil || !isRegister {
		firstPayload.Close()
		tc.Close()
		return
	}
	var reg tunnel.RegisterFrame
	err = tunnel.DecodeFrame(firstPayload, &reg)
	firstPayload.Close()
	if err != nil || reg.ClientID == "" {
		tc.Close()
		return
	}
	tc.SetReadDeadline(time.Time{})

	client := s.Registry.Register(reg.ClientID, tc)
	log.Printf("frontend: client %q registered from %s", reg.ClientID, nc.RemoteAddr())

	defer func() {
		s.Registry.Unregister(reg.ClientID, client)
		tc.Close()
		log.Printf("frontend: client %q disconnected", reg.ClientID)
	}()

	for {
		payload, err := tc.ReadPayload()
		if err != nil {
			return
		}
		client.Touch()

		var resp tunnel.ResponseFrame
		err = tunnel.DecodeFrame(payload, &resp)
		payload.Close()
		if err != nil {
			continue
		}
		if !s.Pending.Deliver(&resp) {
			log.Printf("frontend: dropped response for unknown or expired request %q", resp.RequestID)
		}
	}
}
