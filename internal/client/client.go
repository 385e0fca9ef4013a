// Package client implements the tunnel client: it dials out to a frontend
// server's tunnel port, registers under a client ID, and relays every
// request frame it receives to a local HTTP service, sending the verbatim
// response back over the same connection.
package client

import (
	"context"
	"encoding/base64"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	rhttperrors "github.com/WhileEndless/go-rawhttp/v2/pkg/errors"

	"github.com/edgetunnel/edgetunnel/internal/httpwire"
	"github.com/edgetunnel/edgetunnel/internal/tunnel"
)

// Config controls how Client connects and where it forwards requests.
type Config struct {
	ServerAddr   string // frontend tunnel listener, host:port
	ClientID     string
	Secret       []byte
	LocalBaseURL string // base URL of the local HTTP service, e.g. "http://127.0.0.1:5000"

	DialTimeout          time.Duration
	LocalDialTimeout     time.Duration
	LocalRequestTimeout  time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultLocalDialTimeout    = 10 * time.Second
	DefaultLocalRequestTimeout = 60 * time.Second
	DefaultInitialBackoff      = time.Second
	DefaultMaxBackoff          = 60 * time.Second
)

func (c *Config) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.LocalDialTimeout == 0 {
		c.LocalDialTimeout = DefaultLocalDialTimeout
	}
	if c.LocalRequestTimeout == 0 {
		c.LocalRequestTimeout = DefaultLocalRequestTimeout
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
}

// Client holds one tunnel client's configuration and connection state.
type Client struct {
	cfg Config
}

// New constructs a Client, applying defaults for zero-valued timing fields.
func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{cfg: cfg}
}

// Run connects to the frontend and serves requests until ctx is
// cancelled, reconnecting with exponential backoff (capped at MaxBackoff)
// whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	c.probeLocalService(ctx)

	backoff := c.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("client: connection to %s lost: %v (retrying in %v)", c.cfg.ServerAddr, err, backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// probeLocalService performs a one-time, best-effort GET {LocalBaseURL}/health
// before the client starts connecting to the frontend. It is diagnostic
// only: a failure or non-200 status is logged as a warning but never
// prevents Run from proceeding, since the local service may simply not
// expose a /health endpoint.
func (c *Client) probeLocalService(ctx context.Context) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	url := strings.TrimSuffix(c.cfg.LocalBaseURL, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		log.Printf("client: warning: local service health check failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		log.Printf("client: local service health check passed: %s", url)
	} else {
		log.Printf("client: warning: local service health check returned status %d", resp.StatusCode)
	}
}

// connectAndServe dials the frontend once, registers, and serves request
// frames until the connection fails, returning the error that ended it.
// Run does not reset its backoff after a successful registration; the
// delay keeps doubling across reconnects up to MaxBackoff.
func (c *Client) connectAndServe(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		return err
	}
	tc := tunnel.NewConn(nc, c.cfg.Secret)
	defer tc.Close()

	if err := tc.WriteFrame(&tunnel.RegisterFrame{
		Type:      string(tunnel.FrameTypeRegister),
		ClientID:  c.cfg.ClientID,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}); err != nil {
		return err
	}
	log.Printf("client: registered as %q with %s", c.cfg.ClientID, c.cfg.ServerAddr)

	go func() {
		<-ctx.Done()
		tc.Close()
	}()

	for {
		payload, err := tc.ReadPayload()
		if err != nil {
			return err
		}

		var req tunnel.RequestFrame
		err = tunnel.DecodeFrame(payload, &req)
		payload.Close()
		if err != nil {
			continue
		}

		go c.handleRequest(tc, &req)
	}
}

// handleRequest decodes one request frame, forwards it to the local
// service, and writes back a response frame carrying either the local
// service's verbatim reply or a synthesized error response.
func (c *Client) handleRequest(tc *tunnel.Conn, req *tunnel.RequestFrame) {
	raw, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.sendErrorResponse(tc, req.ID, 500, "malformed request frame")
		return
	}

	respBytes, err := c.forwardToLocalService(raw)
	if err != nil {
		// Local service unreachable, timeout, or any other forwarding
		// failure all synthesize a 500 per the protocol's error handling
		// design; the typed classification is only used for the log line.
		log.Printf("client: request %s failed (%s): %v", req.ID, rhttperrors.GetErrorType(err), err)
		c.sendErrorResponse(tc, req.ID, 500, err.Error())
		return
	}

	if err := tc.WriteFrame(&tunnel.ResponseFrame{
		RequestID: req.ID,
		Data:      base64.StdEncoding.EncodeToString(respBytes),
	}); err != nil {
		log.Printf("client: failed to send response for %s: %v", req.ID, err)
	}
}

func (c *Client) sendErrorResponse(tc *tunnel.Conn, id string, status int, message string) {
	body := httpwire.BuildResponse(status, httpwire.StatusText(status), nil, []byte(message))
	tc.WriteFrame(&tunnel.ResponseFrame{
		RequestID: id,
		Data:      base64.StdEncoding.EncodeToString(body),
	})
}
