package dhcp

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/llfl/finiky/internal/config"
	"github.com/llfl/finiky/internal/lease"
	"github.com/llfl/finiky/internal/metrics"
	"github.com/llfl/finiky/internal/pool"
	"github.com/llfl/finiky/pkg/dhcpv4"
)

// Handler processes DHCP/PXE messages implementing the DORA cycle
// (RFC 2131) plus PXE boot-file selection (RFC 4578).
type Handler struct {
	cfg      *config.Config
	leases   *lease.Manager
	alloc    *pool.Allocator
	logger   *slog.Logger
	serverIP net.IP

	subnetMask net.IP
	gateway    net.IP
	dnsServers []net.IP
	nextServer net.IP
}

// NewHandler builds a Handler from validated configuration. serverIP is the
// address advertised as option 54 (server identifier); it should be an
// address of the interface the DHCP socket is bound to.
func NewHandler(cfg *config.Config, leases *lease.Manager, alloc *pool.Allocator, serverIP net.IP, logger *slog.Logger) (*Handler, error) {
	mask, err := cfg.DHCP.SubnetMaskIP()
	if err != nil {
		return nil, err
	}
	gateway, err := cfg.DHCP.GatewayIP()
	if err != nil {
		return nil, err
	}
	nextServer, err := cfg.DHCP.NextServerIP()
	if err != nil {
		return nil, err
	}
	dns, err := cfg.DHCP.DNSServerIPs()
	if err != nil {
		return nil, err
	}

	return &Handler{
		cfg:        cfg,
		leases:     leases,
		alloc:      alloc,
		logger:     logger,
		serverIP:   serverIP,
		subnetMask: mask,
		gateway:    gateway,
		dnsServers: dns,
		nextServer: nextServer,
	}, nil
}

// HandlePacket dispatches a decoded DHCP packet to the appropriate handler
// based on message type. A nil reply means the packet is silently dropped.
func (h *Handler) HandlePacket(pkt *Packet) *Packet {
	msgType := pkt.MessageType()

	h.logger.Debug("received DHCP packet",
		"msg_type", msgType.String(),
		"mac", pkt.CHAddr.String(),
		"xid", fmt.Sprintf("%08x", pkt.XID))
	metrics.DHCPPacketsReceived.WithLabelValues(msgType.String()).Inc()

	switch msgType {
	case dhcpv4.MessageTypeDiscover:
		return h.handleDiscover(pkt)
	case dhcpv4.MessageTypeRequest:
		return h.handleRequest(pkt)
	case dhcpv4.MessageTypeDecline:
		h.leases.Release(pkt.CHAddr)
		h.logger.Warn("DHCPDECLINE", "mac", pkt.CHAddr.String())
		return nil
	case dhcpv4.MessageTypeRelease:
		h.leases.Release(pkt.CHAddr)
		h.logger.Info("DHCPRELEASE", "mac", pkt.CHAddr.String())
		return nil
	case dhcpv4.MessageTypeInform:
		return h.handleInform(pkt)
	default:
		h.logger.Debug("ignoring unhandled DHCP message type", "msg_type", msgType.String())
		return nil
	}
}

// handleDiscover processes DHCPDISCOVER -> DHCPOFFER (RFC 2131 §4.3.1).
func (h *Handler) handleDiscover(pkt *Packet) *Packet {
	mac := pkt.CHAddr

	ip, ok := h.leases.Allocate(mac, h.alloc)
	if !ok {
		h.logger.Warn("DHCPDISCOVER dropped: pool exhausted", "mac", mac.String())
		return nil
	}

	bootFile, ok := h.selectBootFile(pkt)
	if !ok {
		h.logger.Debug("DHCPDISCOVER dropped: no protocol enabled for client arch", "mac", mac.String())
		return nil
	}

	reply := pkt.NewReply(dhcpv4.MessageTypeOffer, h.serverIP)
	reply.YIAddr = ip
	h.setCommonOptions(reply, pkt)
	setBootFile(reply, bootFile)

	metrics.DHCPPacketsSent.WithLabelValues(dhcpv4.MessageTypeOffer.String()).Inc()
	metrics.BootFileSelections.WithLabelValues(bootFile).Inc()
	h.logger.Info("DHCPOFFER", "mac", mac.String(), "yiaddr", ip.String(), "bootfile", bootFile)
	return reply
}

// handleRequest processes DHCPREQUEST -> DHCPACK/DHCPNAK (RFC 2131 §4.3.2).
func (h *Handler) handleRequest(pkt *Packet) *Packet {
	mac := pkt.CHAddr

	requested := pkt.RequestedIP()
	if requested == nil && !pkt.CIAddr.Equal(net.IPv4zero) {
		requested = pkt.CIAddr
	}

	leased, ok := h.leases.Lookup(mac)
	if !ok || requested == nil || !leased.Equal(requested) {
		h.logger.Warn("DHCPNAK", "mac", mac.String(), "requested_ip", requested)
		metrics.DHCPPacketsSent.WithLabelValues(dhcpv4.MessageTypeNak.String()).Inc()
		return pkt.NewReply(dhcpv4.MessageTypeNak, h.serverIP)
	}

	bootFile, ok := h.selectBootFile(pkt)
	if !ok {
		h.logger.Debug("DHCPREQUEST dropped: no protocol enabled for client arch", "mac", mac.String())
		return nil
	}

	reply := pkt.NewReply(dhcpv4.MessageTypeAck, h.serverIP)
	reply.YIAddr = leased
	if !pkt.CIAddr.Equal(net.IPv4zero) {
		reply.CIAddr = pkt.CIAddr
	}
	h.setCommonOptions(reply, pkt)
	setBootFile(reply, bootFile)

	metrics.DHCPPacketsSent.WithLabelValues(dhcpv4.MessageTypeAck.String()).Inc()
	h.logger.Info("DHCPACK", "mac", mac.String(), "yiaddr", leased.String(), "bootfile", bootFile)
	return reply
}

// handleInform processes DHCPINFORM -> DHCPACK with options only, no
// address assignment (RFC 2131 §4.3.5).
func (h *Handler) handleInform(pkt *Packet) *Packet {
	reply := pkt.NewReply(dhcpv4.MessageTypeAck, h.serverIP)
	reply.CIAddr = pkt.CIAddr
	reply.YIAddr = net.IPv4zero

	h.setCommonOptions(reply, pkt)
	reply.Options.Delete(dhcpv4.OptionIPLeaseTime)

	h.logger.Info("DHCPINFORM", "mac", pkt.CHAddr.String())
	return reply
}

// selectBootFile applies the arch-based selection rules from the data
// model. ok is false when the request should be dropped silently because
// no enabled protocol covers the detected architecture.
func (h *Handler) selectBootFile(pkt *Packet) (string, bool) {
	arch, hasArch := pkt.ClientArch()
	protocols := h.cfg.DHCP.Protocols

	if pkt.IsPXEClient() && hasArch && arch.IsUEFI() {
		if protocols.EFI {
			return "bootx64.efi", true
		}
		return "", false
	}
	if arch == dhcpv4.ArchX86BIOS || !hasArch {
		if protocols.Legacy {
			return "pxelinux.0", true
		}
	}
	if protocols.DHCPBoot {
		return "", true
	}
	return "", false
}

// setCommonOptions populates the response option set shared by OFFER, ACK,
// and INFORM replies. request is the original packet, needed to echo back
// option 97 (client machine ID) per RFC 4578 §2.1.
func (h *Handler) setCommonOptions(reply, request *Packet) {
	reply.Options.SetIP(dhcpv4.OptionSubnetMask, h.subnetMask)
	reply.Options.SetIPList(dhcpv4.OptionRouter, []net.IP{h.gateway})
	if len(h.dnsServers) > 0 {
		reply.Options.SetIPList(dhcpv4.OptionDomainNameServer, h.dnsServers)
	}
	reply.Options.SetUint32(dhcpv4.OptionIPLeaseTime, uint32(h.cfg.DHCP.LeaseTime))
	reply.Options.SetString(dhcpv4.OptionVendorClassID, dhcpv4.PXEClient)
	if mid := request.ClientMachineID(); mid != nil {
		reply.Options.Set(dhcpv4.OptionClientMachineID, mid)
	}
	reply.SIAddr = h.nextServer
}

// setBootFile writes the selected boot file name into both the BOOTP file
// field and option 67, as required by RFC 2131 and needed for client
// compatibility.
func setBootFile(reply *Packet, bootFile string) {
	var file [128]byte
	copy(file[:], bootFile)
	reply.File = file
	reply.Options.SetString(dhcpv4.OptionBootfileName, bootFile)
}
