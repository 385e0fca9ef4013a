package tunnel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/pkg/buffer"
)

// Conn wraps a raw net.Conn with the tunnel frame codec. Writes are
// serialized with a mutex so that concurrent senders (a request dispatch
// racing a response write, for instance) never interleave two frames on the
// wire, matching the protocol's single-writer-at-a-time requirement.
type Conn struct {
	nc     net.Conn
	br     *bufio.Reader
	secret []byte

	writeMu sync.Mutex
}

// NewConn wraps nc for framed reads and writes under secret.
func NewConn(nc net.Conn, secret []byte) *Conn {
	return &Conn{
		nc:     nc,
		br:     bufio.NewReaderSize(nc, 64*1024),
		secret: secret,
	}
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// WriteFrame marshals v to JSON and writes it as a signed frame, serialized
// against any concurrent writer on this connection.
func (c *Conn) WriteFrame(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("tunnel: marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.nc, c.secret, payload)
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

// ReadPayload reads the next signed frame off the connection and returns
// its still-undecoded JSON payload. The caller knows from protocol
// direction (and, for the very first frame on a tunnel listener
// connection, from IsRegisterPayload) what struct to decode it into, and
// must Close the returned buffer once done.
func (c *Conn) ReadPayload() (*buffer.Buffer, error) {
	return ReadFrame(c.br, c.secret)
}

// IsRegisterPayload reports whether payload is a registration frame,
// without consuming or closing it.
func IsRegisterPayload(payload *buffer.Buffer) (bool, error) {
	var env registerEnvelope
	if err := DecodeFrame(payload, &env); err != nil {
		return false, err
	}
	return env.Type == string(FrameTypeRegister), nil
}

// DecodeFrame decodes payload's JSON bytes into v. It does not close
// payload; the caller retains that responsibility.
func DecodeFrame(payload *buffer.Buffer, v interface{}) error {
	r, err := payload.Reader()
	if err != nil {
		return fmt.Errorf("tunnel: open payload reader: %w", err)
	}
	defer r.Close()

	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("tunnel: decode frame: %w", err)
	}
	return nil
}
