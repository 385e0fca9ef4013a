package frontend

import (
	"context"
	"log"
	"time"
)

// runEvictionSweep periodically removes tunnel clients that have not sent
// any frame (register, or response to a forwarded request) within
// EvictionMaxIdle, closing their connections so a half-dead TCP session
// never silently holds a registry slot forever.
func (s *Server) runEvictionSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Registry.Sweep(s.cfg.EvictionMaxIdle); n > 0 {
				log.Printf("frontend: evicted %d idle tunnel client(s)", n)
			}
		}
	}
}
