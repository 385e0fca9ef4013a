// Package frontend implements the reverse tunnel's public-facing half: a
// listener that accepts inbound HTTP requests from the internet, a
// listener that accepts outbound connections from tunnel clients, and the
// shared registry/pending tables that correlate the two.
package frontend

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/edgetunnel/edgetunnel/internal/tunnel"
)

// Config controls Server's listeners and timing parameters. Zero values
// fall back to the defaults below, mirroring the teacher's flag-then-env-
// then-default resolution pattern (see cmd/serve.go).
type Config struct {
	HTTPAddr   string
	TunnelAddr string
	AdminAddr  string // empty disables the admin surface
	Secret     []byte

	RequestTimeout  time.Duration
	EvictionMaxIdle time.Duration
	SweepInterval   time.Duration

	AcceptRateLimit rate.Limit
	AcceptBurst     int
	MaxPendingAccept int
}

const (
	DefaultRequestTimeout  = 120 * time.Second
	DefaultEvictionMaxIdle = 300 * time.Second
	DefaultSweepInterval   = 60 * time.Second

	defaultAcceptRateLimit  rate.Limit = 50
	defaultAcceptBurst                 = 100
	defaultMaxPendingAccept             = 256
)

func (c *Config) setDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.EvictionMaxIdle == 0 {
		c.EvictionMaxIdle = DefaultEvictionMaxIdle
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.AcceptRateLimit == 0 {
		c.AcceptRateLimit = defaultAcceptRateLimit
	}
	if c.AcceptBurst == 0 {
		c.AcceptBurst = defaultAcceptBurst
	}
	if c.MaxPendingAccept == 0 {
		c.MaxPendingAccept = defaultMaxPendingAccept
	}
}

// Server is the frontend process: it owns the client registry, the
// pending-request table, and the two listeners that drive them.
type Server struct {
	cfg Config

	Registry *tunnel.Registry
	Pending  *tunnel.PendingTable
}

// New constructs a Server from cfg, applying defaults for any zero-valued
// timing or rate-limit fields.
func New(cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:      cfg,
		Registry: tunnel.NewRegistry(),
		Pending:  tunnel.NewPendingTable(),
	}
}

// Run starts the HTTP listener, the tunnel listener, the optional admin
// listener, and the eviction sweep, and blocks until ctx is cancelled or
// one of them fails. All goroutines are stopped before Run returns.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serveHTTP(ctx)
	})
	g.Go(func() error {
		return s.serveTunnel(ctx)
	})
	if s.cfg.AdminAddr != "" {
		g.Go(func() error {
			return s.serveAdmin(ctx)
		})
	}
	g.Go(func() error {
		s.runEvictionSweep(ctx)
		return nil
	})

	log.Printf("frontend: http=%s tunnel=%s admin=%q", s.cfg.HTTPAddr, s.cfg.TunnelAddr, s.cfg.AdminAddr)
	return g.Wait()
}
