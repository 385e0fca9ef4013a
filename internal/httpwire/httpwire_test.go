package httpwire

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadMessageWithBody(t *testing.T) {
	raw := "POST /infer HTTP/1.1\r\nHost: local\r\nContent-Length: 5\r\n\r\nhello"
	br := bufio.NewReader(strings.NewReader(raw))

	msg, err := ReadMessage(br)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(msg.Body) != "hello" {
		t.Fatalf("unexpected body: %q", msg.Body)
	}
	if !strings.HasPrefix(string(msg.Head), "POST /infer HTTP/1.1\r\n") {
		t.Fatalf("unexpected head: %q", msg.Head)
	}
	if !bytes.Equal(msg.Bytes(), []byte(raw)) {
		t.Fatalf("Bytes() did not reproduce the original message verbatim")
	}
}

func TestReadMessageNoBody(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: local\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	msg, err := ReadMessage(br)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(msg.Body) != 0 {
		t.Fatalf("expected empty body, got %q", msg.Body)
	}
}

func TestReadMessageRejectsChunked(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	_, err := ReadMessage(br)
	if err != ErrChunkedUnsupported {
		t.Fatalf("expected ErrChunkedUnsupported, got %v", err)
	}
}

func TestParseRequestLine(t *testing.T) {
	head := []byte("GET /v1/predict?x=1 HTTP/1.1\r\nHost: local\r\nContent-Type: application/json\r\n\r\n")
	rl, err := ParseRequestLine(head)
	if err != nil {
		t.Fatalf("ParseRequestLine: %v", err)
	}
	if rl.Method != "GET" || rl.Path != "/v1/predict?x=1" {
		t.Fatalf("unexpected method/path: %+v", rl)
	}
	if ct, ok := rl.HeaderValue("content-type"); !ok || ct != "application/json" {
		t.Fatalf("unexpected content-type lookup: %q %v", ct, ok)
	}
	if rl.IsMultipartFormData() {
		t.Fatal("should not report multipart for application/json")
	}
}

func TestIsMultipartFormData(t *testing.T) {
	head := []byte("POST /upload HTTP/1.1\r\nContent-Type: multipart/form-data; boundary=xyz\r\n\r\n")
	rl, err := ParseRequestLine(head)
	if err != nil {
		t.Fatalf("ParseRequestLine: %v", err)
	}
	if !rl.IsMultipartFormData() {
		t.Fatal("expected multipart/form-data to be detected")
	}
}

func TestParseStatusLine(t *testing.T) {
	head := []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	sl, err := ParseStatusLine(head)
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if sl.Status != 404 || sl.Reason != "Not Found" {
		t.Fatalf("unexpected status line: %+v", sl)
	}
}

func TestBuildResponseSetsContentLengthAndDropsTransferEncoding(t *testing.T) {
	headers := []Header{
		{Name: "Transfer-Encoding", Value: "chunked"},
		{Name: "Content-Type", Value: "application/json"},
	}
	body := []byte(`{"ok":true}`)

	out := BuildResponse(200, "OK", headers, body)
	s := string(out)

	if strings.Contains(s, "Transfer-Encoding") {
		t.Fatal("expected Transfer-Encoding header to be dropped")
	}
	if !strings.Contains(s, "Content-Length: 11") {
		t.Fatalf("expected correct Content-Length, got: %q", s)
	}
	if !strings.HasSuffix(s, string(body)) {
		t.Fatalf("expected body to be appended verbatim, got: %q", s)
	}
}

func TestReadRequestMessageParsesRequestLine(t *testing.T) {
	raw := "POST /infer HTTP/1.1\r\nHost: local\r\nContent-Length: 5\r\n\r\nhello"
	br := bufio.NewReader(strings.NewReader(raw))

	msg, rl, err := ReadRequestMessage(br)
	if err != nil {
		t.Fatalf("ReadRequestMessage: %v", err)
	}
	if rl.Method != "POST" || rl.Path != "/infer" {
		t.Fatalf("unexpected request line: %+v", rl)
	}
	if string(msg.Body) != "hello" {
		t.Fatalf("unexpected body: %q", msg.Body)
	}
}

func TestReadRequestMessageAllowsMissingContentLengthOnGET(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: local\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	_, rl, err := ReadRequestMessage(br)
	if err != nil {
		t.Fatalf("ReadRequestMessage: %v", err)
	}
	if rl.Method != "GET" {
		t.Fatalf("unexpected method: %q", rl.Method)
	}
}

func TestReadRequestMessageRejectsMissingContentLengthOnPOST(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nHost: local\r\n\r\nleftover"
	br := bufio.NewReader(strings.NewReader(raw))

	_, _, err := ReadRequestMessage(br)
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestReadRequestMessageRejectsUnparsableRequestLine(t *testing.T) {
	raw := "GARBAGE\r\nHost: local\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	_, _, err := ReadRequestMessage(br)
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestReadRequestMessageRejectsInvalidContentLength(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nHost: local\r\nContent-Length: notanumber\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	_, _, err := ReadRequestMessage(br)
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}
