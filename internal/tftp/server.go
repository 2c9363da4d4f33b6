package tftp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/llfl/finiky/internal/metrics"
	"github.com/llfl/finiky/internal/vfs"
)

// Server is the TFTP primary listener. It only ever receives initial RRQ
// packets; each accepted request is handed off to its own goroutine with
// its own ephemeral UDP socket, per RFC 1350 §4.
type Server struct {
	root   vfs.VFS
	logger *slog.Logger
	addr   string
	conn   *net.UDPConn
	wg     sync.WaitGroup
	done   chan struct{}

	// maxTransfers bounds concurrent in-flight transfers. Zero means
	// unbounded. Excess RRQs are dropped silently.
	maxTransfers int
	sem          chan struct{}
}

// NewServer creates a TFTP server backed by root, serving on port.
// maxTransfers bounds concurrent transfers; pass 0 for no bound.
func NewServer(root vfs.VFS, port int, maxTransfers int, logger *slog.Logger) *Server {
	s := &Server{
		root:         root,
		logger:       logger,
		addr:         fmt.Sprintf(":%d", port),
		done:         make(chan struct{}),
		maxTransfers: maxTransfers,
	}
	if maxTransfers > 0 {
		s.sem = make(chan struct{}, maxTransfers)
	}
	return s
}

// Start begins listening for RRQ/WRQ packets.
func (s *Server) Start(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", s.addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.conn = conn

	s.logger.Info("TFTP server started", "address", s.addr)

	s.wg.Add(1)
	go s.serve(ctx)
	return nil
}

func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()
	buf := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Error("reading UDP packet", "error", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
			default:
				s.logger.Debug("dropping RRQ: transfer concurrency limit reached", "src", src.String())
				continue
			}
		}

		s.wg.Add(1)
		go func(data []byte, src *net.UDPAddr) {
			defer s.wg.Done()
			if s.sem != nil {
				defer func() { <-s.sem }()
			}
			s.handleRequest(data, src)
		}(data, src)
	}
}

// handleRequest decodes a request packet and, if it is a servable RRQ,
// runs the transfer to completion on a freshly-bound ephemeral socket.
func (s *Server) handleRequest(data []byte, src *net.UDPAddr) {
	req, err := DecodeRequest(data)
	if err != nil {
		s.logger.Debug("dropping malformed TFTP request", "error", err, "src", src.String())
		return
	}

	conn, err := net.DialUDP("udp4", nil, src)
	if err != nil {
		s.logger.Error("opening ephemeral TFTP socket", "error", err, "src", src.String())
		return
	}
	defer conn.Close()

	if req.Op == OpWRQ {
		conn.Write(EncodeError(ErrCodeIllegalOperation, "write requests are not supported"))
		return
	}

	if !isSupportedMode(req.Mode) {
		conn.Write(EncodeError(ErrCodeIllegalOperation, "unsupported transfer mode"))
		return
	}

	fileData, err := s.root.Read(req.Filename)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			conn.Write(EncodeError(ErrCodeFileNotFound, "file not found"))
			s.logger.Info("TFTP RRQ: file not found", "file", req.Filename, "src", src.String())
			return
		}
		conn.Write(EncodeError(ErrCodeUndefined, "internal error"))
		s.logger.Error("TFTP RRQ: VFS read error", "file", req.Filename, "error", err)
		return
	}

	accepted, blksize, timeout, err := Negotiate(req.Options, uint64(len(fileData)))
	if err != nil {
		conn.Write(EncodeError(ErrCodeOptionNegotiation, err.Error()))
		s.logger.Warn("TFTP RRQ: option negotiation failed", "file", req.Filename, "error", err)
		metrics.TFTPTransfersFailed.WithLabelValues("option_negotiation").Inc()
		return
	}

	s.logger.Info("TFTP RRQ accepted", "file", req.Filename, "src", src.String(), "size", len(fileData), "blksize", blksize)

	// Closing the transfer socket on shutdown makes serveTransfer's next
	// read or write fail, so the transfer aborts without an ERROR packet.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-s.done:
			conn.Close()
		case <-finished:
		}
	}()

	serveTransfer(conn, req.Filename, fileData, blksize, timeout, accepted, s.logger)
}

func isSupportedMode(mode string) bool {
	return equalFold(mode, ModeOctet) || equalFold(mode, ModeNetascii)
}

// Stop gracefully shuts down the server and waits for in-flight transfers
// to observe the shutdown signal. Per the cancellation model, in-flight
// transfers are aborted without sending a final ERROR packet.
func (s *Server) Stop() {
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("TFTP server stopped")
}
