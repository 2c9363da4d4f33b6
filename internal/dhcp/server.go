package dhcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/llfl/finiky/internal/metrics"
	"github.com/llfl/finiky/pkg/dhcpv4"
	"golang.org/x/sys/unix"
)

// Server is the DHCPv4/PXE UDP server: a single receive loop that dispatches
// each packet to its own goroutine. All lease-table mutation happens inside
// Handler under a single mutex, so per-packet goroutines never need to
// coordinate with each other directly.
type Server struct {
	conn    *net.UDPConn
	handler *Handler
	logger  *slog.Logger
	addr    string
	iface   string
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewServer creates a DHCP server listening on the wildcard address at
// port. If iface is non-empty, the socket is
// bound to that interface with SO_BINDTODEVICE so broadcast DISCOVERs are
// only received on it, matching what dhcpd/isc-dhcp-server do on multi-homed
// boot servers.
func NewServer(handler *Handler, port int, iface string, logger *slog.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
		addr:    fmt.Sprintf(":%d", port),
		iface:   iface,
		done:    make(chan struct{}),
	}
}

// Start begins listening for DHCP packets.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	if s.iface != "" {
		lc.Control = bindToDevice(s.iface)
	}

	pc, err := lc.ListenPacket(ctx, "udp4", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return fmt.Errorf("listening on %s: unexpected connection type %T", s.addr, pc)
	}
	s.conn = conn

	s.logger.Info("DHCP server started", "address", s.addr, "interface", s.iface)

	s.wg.Add(1)
	go s.serve(ctx)

	return nil
}

// serve is the main packet-receive loop.
func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		buf := GetBuffer()
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				PutBuffer(buf)
				return
			default:
			}
			s.logger.Error("reading UDP packet", "error", err)
			PutBuffer(buf)
			continue
		}

		s.wg.Add(1)
		go func(data []byte, length int, addr *net.UDPAddr) {
			defer s.wg.Done()
			defer PutBuffer(data)
			s.processPacket(data[:length], addr)
		}(buf, n, src)
	}
}

// processPacket decodes, handles, and replies to a single DHCP packet.
func (s *Server) processPacket(data []byte, src *net.UDPAddr) {
	pkt, err := DecodePacket(data)
	if err != nil {
		metrics.DHCPPacketErrors.WithLabelValues("decode").Inc()
		s.logger.Warn("dropping malformed packet", "error", err, "src", src.String(), "size", len(data))
		return
	}
	if pkt.Op != dhcpv4.OpCodeBootRequest {
		return
	}

	start := time.Now()
	reply := s.handler.HandlePacket(pkt)
	metrics.DHCPProcessingDuration.WithLabelValues(pkt.MessageType().String()).Observe(time.Since(start).Seconds())

	if reply == nil {
		return
	}

	replyBytes, err := reply.Encode()
	if err != nil {
		metrics.DHCPPacketErrors.WithLabelValues("encode").Inc()
		s.logger.Error("encoding reply", "error", err, "mac", pkt.CHAddr.String())
		return
	}

	dst := replyDestination(pkt)
	if _, err := s.conn.WriteToUDP(replyBytes, dst); err != nil {
		metrics.DHCPPacketErrors.WithLabelValues("send").Inc()
		s.logger.Error("sending reply", "error", err, "dst", dst.String(), "mac", pkt.CHAddr.String())
	}
}

// replyDestination implements the destination rule from the transport
// description: unicast to ciaddr:68 if the client has one, otherwise
// broadcast to 255.255.255.255:68.
func replyDestination(request *Packet) *net.UDPAddr {
	if !request.CIAddr.Equal(net.IPv4zero) {
		return &net.UDPAddr{IP: request.CIAddr, Port: dhcpv4.ClientPort}
	}
	return &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("DHCP server stopped")
}

// Handler returns the packet handler.
func (s *Server) Handler() *Handler {
	return s.handler
}

// bindToDevice returns a ListenConfig.Control func that applies
// SO_BINDTODEVICE for the named interface before the socket is bound.
func bindToDevice(iface string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
