package client

import (
	"bufio"
	"net"
)

func newBufReader(conn net.Conn) *bufio.Reader {
	return bufio.NewReaderSize(conn, 16*1024)
}
