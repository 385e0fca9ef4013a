package frontend

import (
	"bufio"
	"net"
)

// newBufReader wraps conn with a buffered reader sized generously enough
// that typical request/response headers never require a second syscall.
func newBufReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReaderSize(conn, 16*1024)
}
