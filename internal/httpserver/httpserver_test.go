package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/llfl/finiky/internal/vfs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type memFile struct {
	data []byte
}

// memVFS is a minimal in-memory VFS stub for exercising the HTTP layer
// without touching the filesystem.
type memVFS struct {
	files map[string]memFile
}

func (m *memVFS) Exists(p string) bool { _, ok := m.files[p]; return ok }

func (m *memVFS) Size(p string) (uint64, error) {
	f, ok := m.files[p]
	if !ok {
		return 0, vfs.ErrNotFound
	}
	return uint64(len(f.data)), nil
}

func (m *memVFS) Read(p string) ([]byte, error) {
	f, ok := m.files[p]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return f.data, nil
}

func (m *memVFS) ReadRange(p string, offset, length int64) ([]byte, error) {
	f, ok := m.files[p]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	if offset < 0 || offset > int64(len(f.data)) {
		return nil, vfs.ErrOutOfRange
	}
	end := offset + length
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	return f.data[offset:end], nil
}

func startTestServer(t *testing.T, root *memVFS) (addr string, stop func()) {
	t.Helper()
	srv := NewServer(root, 0, testLogger())
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv.listener = ln
	srv.wg.Add(1)
	go srv.serve(context.Background())
	return ln.Addr().String(), srv.Stop
}

func doRequest(t *testing.T, addr, method, target, rangeHeader string) (status int, headers map[string]string, body []byte) {
	t.Helper()
	conn, err := net.DialTimeout("tcp4", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := fmt.Sprintf("%s %s HTTP/1.1\r\n", method, target)
	if rangeHeader != "" {
		req += fmt.Sprintf("Range: %s\r\n", rangeHeader)
	}
	req += "\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		t.Fatalf("malformed status line %q", statusLine)
	}
	fmt.Sscanf(fields[1], "%d", &status)

	headers = map[string]string{}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading headers: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	body, _ = io.ReadAll(reader)
	return status, headers, body
}

func TestGetExistingFileReturns200(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 4096)
	root := &memVFS{files: map[string]memFile{"vmlinuz": {data: data}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, headers, body := doRequest(t, addr, "GET", "/vmlinuz", "")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if headers["content-length"] != fmt.Sprintf("%d", len(data)) {
		t.Errorf("content-length = %q, want %d", headers["content-length"], len(data))
	}
	if headers["content-type"] != "application/octet-stream" {
		t.Errorf("content-type = %q, want application/octet-stream", headers["content-type"])
	}
	if !bytes.Equal(body, data) {
		t.Errorf("body length = %d, want %d", len(body), len(data))
	}
}

func TestHeadReturnsHeadersOnly(t *testing.T) {
	root := &memVFS{files: map[string]memFile{"f.txt": {data: []byte("hello")}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, headers, body := doRequest(t, addr, "HEAD", "/f.txt", "")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if headers["content-type"] != "text/plain" {
		t.Errorf("content-type = %q, want text/plain", headers["content-type"])
	}
	if len(body) != 0 {
		t.Errorf("HEAD body length = %d, want 0", len(body))
	}
}

func TestGetMissingFileReturns404(t *testing.T) {
	root := &memVFS{files: map[string]memFile{}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, _, _ := doRequest(t, addr, "GET", "/nope", "")
	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestPutReturns405(t *testing.T) {
	root := &memVFS{files: map[string]memFile{"f": {data: []byte("x")}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, _, _ := doRequest(t, addr, "PUT", "/f", "")
	if status != 405 {
		t.Fatalf("status = %d, want 405", status)
	}
}

func TestRangeSingleByteReturns206(t *testing.T) {
	root := &memVFS{files: map[string]memFile{"f": {data: []byte("abcdef")}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, headers, body := doRequest(t, addr, "GET", "/f", "bytes=0-0")
	if status != 206 {
		t.Fatalf("status = %d, want 206", status)
	}
	if headers["content-range"] != "bytes 0-0/6" {
		t.Errorf("content-range = %q, want bytes 0-0/6", headers["content-range"])
	}
	if string(body) != "a" {
		t.Errorf("body = %q, want %q", body, "a")
	}
}

func TestRangeBeyondSizeReturns416(t *testing.T) {
	root := &memVFS{files: map[string]memFile{"f": {data: []byte("abcdef")}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, headers, _ := doRequest(t, addr, "GET", "/f", "bytes=100-200")
	if status != 416 {
		t.Fatalf("status = %d, want 416", status)
	}
	if headers["content-range"] != "bytes */6" {
		t.Errorf("content-range = %q, want bytes */6", headers["content-range"])
	}
}

func TestMalformedRequestLineReturns400(t *testing.T) {
	addr, stop := startTestServer(t, &memVFS{files: map[string]memFile{}})
	defer stop()

	conn, err := net.DialTimeout("tcp4", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("NOT A REQUEST\r\n\r\n"))

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("reading status line: %v", err)
	}
	if !strings.Contains(statusLine, "400") {
		t.Errorf("status line = %q, want 400", statusLine)
	}
}

func TestLargeFileFullRangeMatchesSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x11}, 5*1024*1024)
	root := &memVFS{files: map[string]memFile{"vmlinuz": {data: data}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, headers, _ := doRequest(t, addr, "GET", "/vmlinuz", "")
	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if headers["content-length"] != "5242880" {
		t.Errorf("content-length = %q, want 5242880", headers["content-length"])
	}
}

func TestRangeMidFileReturnsExactSlice(t *testing.T) {
	data := bytes.Repeat([]byte{0x00}, 2*1024*1024)
	for i := 1024 * 1024; i < 1024*1024+10; i++ {
		data[i] = byte(i)
	}
	root := &memVFS{files: map[string]memFile{"vmlinuz": {data: data}}}
	addr, stop := startTestServer(t, root)
	defer stop()

	status, headers, body := doRequest(t, addr, "GET", "/vmlinuz", "bytes=1048576-2097151")
	if status != 206 {
		t.Fatalf("status = %d, want 206", status)
	}
	if headers["content-range"] != fmt.Sprintf("bytes 1048576-2097151/%d", len(data)) {
		t.Errorf("content-range = %q", headers["content-range"])
	}
	if !bytes.Equal(body, data[1048576:2097152]) {
		t.Errorf("range body mismatch, length = %d, want %d", len(body), 1048576)
	}
}
