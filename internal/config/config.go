// Package config handles TOML configuration parsing, defaulting, and
// validation for finiky.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for finiky.
type Config struct {
	Server ServerConfig `toml:"server"`
	DHCP   DHCPConfig   `toml:"dhcp"`
	TFTP   TFTPConfig   `toml:"tftp"`
	HTTP   HTTPConfig   `toml:"http"`
}

// ServerConfig holds ambient settings shared by all three listeners.
type ServerConfig struct {
	LogLevel string `toml:"log_level"`
}

// DHCPProtocolsConfig enables or disables PXE boot-file selection paths.
type DHCPProtocolsConfig struct {
	EFI      bool `toml:"efi"`
	Legacy   bool `toml:"legacy"`
	DHCPBoot bool `toml:"dhcp_boot"`
}

// DHCPConfig configures the DHCP/PXE listener.
type DHCPConfig struct {
	Port       int                 `toml:"port"`
	Interface  *string             `toml:"interface"`
	PoolStart  string              `toml:"pool_start"`
	PoolEnd    string              `toml:"pool_end"`
	SubnetMask string              `toml:"subnet_mask"`
	Gateway    string              `toml:"gateway"`
	DNSServers []string            `toml:"dns_servers"`
	NextServer string              `toml:"next_server"`
	LeaseTime  int                 `toml:"lease_time_seconds"`
	Protocols  DHCPProtocolsConfig `toml:"protocols"`
}

// TFTPConfig configures the TFTP listener and its data root.
type TFTPConfig struct {
	Port int    `toml:"port"`
	Root string `toml:"root"`
}

// HTTPConfig configures the HTTP listener and its data root.
type HTTPConfig struct {
	Port int    `toml:"port"`
	Root string `toml:"root"`
}

// Default returns a fully populated Config using package default values.
// It is the starting point both for gen-config and for Load, which decodes
// a TOML file on top of it so absent fields keep their defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: DefaultLogLevel,
		},
		DHCP: DHCPConfig{
			Port:       DefaultDHCPPort,
			Interface:  nil,
			PoolStart:  "10.0.0.100",
			PoolEnd:    "10.0.0.199",
			SubnetMask: "255.255.255.0",
			Gateway:    "10.0.0.1",
			DNSServers: []string{"10.0.0.1"},
			NextServer: "10.0.0.1",
			LeaseTime:  DefaultLeaseTimeSeconds,
			Protocols: DHCPProtocolsConfig{
				EFI:      true,
				Legacy:   true,
				DHCPBoot: false,
			},
		},
		TFTP: TFTPConfig{
			Port: DefaultTFTPPort,
			Root: DefaultTFTPRoot,
		},
		HTTP: HTTPConfig{
			Port: DefaultHTTPPort,
			Root: DefaultHTTPRoot,
		},
	}
}

// Load reads and validates a TOML configuration file at path. Fields absent
// from the file retain the values from Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write encodes cfg as TOML to path, creating or truncating the file.
func Write(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// Validate checks that address fields parse and that the pool range and
// port numbers are sane. It does not touch the network.
func (c *Config) Validate() error {
	if c.DHCP.Port <= 0 || c.DHCP.Port > 65535 {
		return fmt.Errorf("config: dhcp.port %d out of range", c.DHCP.Port)
	}
	if c.TFTP.Port <= 0 || c.TFTP.Port > 65535 {
		return fmt.Errorf("config: tftp.port %d out of range", c.TFTP.Port)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}

	start, err := c.DHCP.PoolStartIP()
	if err != nil {
		return fmt.Errorf("config: dhcp.pool_start: %w", err)
	}
	end, err := c.DHCP.PoolEndIP()
	if err != nil {
		return fmt.Errorf("config: dhcp.pool_end: %w", err)
	}
	if ipToUint32(start) > ipToUint32(end) {
		return fmt.Errorf("config: dhcp.pool_start %s is after dhcp.pool_end %s", start, end)
	}
	if _, err := c.DHCP.SubnetMaskIP(); err != nil {
		return fmt.Errorf("config: dhcp.subnet_mask: %w", err)
	}
	if _, err := c.DHCP.GatewayIP(); err != nil {
		return fmt.Errorf("config: dhcp.gateway: %w", err)
	}
	if _, err := c.DHCP.NextServerIP(); err != nil {
		return fmt.Errorf("config: dhcp.next_server: %w", err)
	}
	for _, d := range c.DHCP.DNSServers {
		if net.ParseIP(d) == nil {
			return fmt.Errorf("config: dhcp.dns_servers: invalid address %q", d)
		}
	}
	if c.TFTP.Root == "" {
		return fmt.Errorf("config: tftp.root must not be empty")
	}
	if c.HTTP.Root == "" {
		return fmt.Errorf("config: http.root must not be empty")
	}
	return nil
}

// PoolStartIP parses the configured inclusive pool start address.
func (d DHCPConfig) PoolStartIP() (net.IP, error) { return parseIPv4(d.PoolStart) }

// PoolEndIP parses the configured inclusive pool end address.
func (d DHCPConfig) PoolEndIP() (net.IP, error) { return parseIPv4(d.PoolEnd) }

// SubnetMaskIP parses the configured subnet mask.
func (d DHCPConfig) SubnetMaskIP() (net.IP, error) { return parseIPv4(d.SubnetMask) }

// GatewayIP parses the configured gateway/router address.
func (d DHCPConfig) GatewayIP() (net.IP, error) { return parseIPv4(d.Gateway) }

// NextServerIP parses the configured siaddr (next-server) address.
func (d DHCPConfig) NextServerIP() (net.IP, error) { return parseIPv4(d.NextServer) }

// DNSServerIPs parses the configured DNS server list in order.
func (d DHCPConfig) DNSServerIPs() ([]net.IP, error) {
	ips := make([]net.IP, 0, len(d.DNSServers))
	for _, s := range d.DNSServers {
		ip, err := parseIPv4(s)
		if err != nil {
			return nil, err
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("invalid IPv4 address %q", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return ip4, nil
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

// Overrides carries CLI flag values that take precedence over a loaded (or
// default) Config. A nil field means "not set on the command line".
type Overrides struct {
	DHCPPort     *int
	TFTPPort     *int
	HTTPPort     *int
	TFTPRoot     *string
	HTTPRoot     *string
	EnableEFI    *bool
	EnableLegacy *bool
}

// Apply merges non-nil override fields into cfg in place.
func (o Overrides) Apply(cfg *Config) {
	if o.DHCPPort != nil {
		cfg.DHCP.Port = *o.DHCPPort
	}
	if o.TFTPPort != nil {
		cfg.TFTP.Port = *o.TFTPPort
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.TFTPRoot != nil {
		cfg.TFTP.Root = *o.TFTPRoot
	}
	if o.HTTPRoot != nil {
		cfg.HTTP.Root = *o.HTTPRoot
	}
	if o.EnableEFI != nil {
		cfg.DHCP.Protocols.EFI = *o.EnableEFI
	}
	if o.EnableLegacy != nil {
		cfg.DHCP.Protocols.Legacy = *o.EnableLegacy
	}
}
