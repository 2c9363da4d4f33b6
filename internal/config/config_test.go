package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
[dhcp]
port = 6767
pool_start = "192.168.1.100"
pool_end = "192.168.1.150"
subnet_mask = "255.255.255.0"
gateway = "192.168.1.1"
dns_servers = ["8.8.8.8"]
next_server = "192.168.1.1"

[dhcp.protocols]
efi = true
legacy = false

[tftp]
port = 6969
root = "/srv/tftp"

[http]
port = 8888
root = "/srv/http"
`

func TestLoadAppliesOverridesOnTopOfDefaults(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DHCP.Port != 6767 {
		t.Errorf("DHCP.Port = %d, want 6767", cfg.DHCP.Port)
	}
	if cfg.DHCP.Protocols.EFI != true || cfg.DHCP.Protocols.Legacy != false {
		t.Errorf("Protocols = %+v, want efi=true legacy=false", cfg.DHCP.Protocols)
	}
	// dhcp_boot absent from the file, must retain Default()'s value.
	if cfg.DHCP.Protocols.DHCPBoot != false {
		t.Errorf("Protocols.DHCPBoot = %v, want false (default)", cfg.DHCP.Protocols.DHCPBoot)
	}
	if cfg.TFTP.Root != "/srv/tftp" {
		t.Errorf("TFTP.Root = %q, want /srv/tftp", cfg.TFTP.Root)
	}
	if cfg.HTTP.Port != 8888 {
		t.Errorf("HTTP.Port = %d, want 8888", cfg.HTTP.Port)
	}
	// server.log_level absent from the file, must retain Default()'s value.
	if cfg.Server.LogLevel != DefaultLogLevel {
		t.Errorf("Server.LogLevel = %q, want %q", cfg.Server.LogLevel, DefaultLogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config { return Default() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad dhcp port", func(c *Config) { c.DHCP.Port = 0 }, true},
		{"bad tftp port", func(c *Config) { c.TFTP.Port = 70000 }, true},
		{"bad http port", func(c *Config) { c.HTTP.Port = -1 }, true},
		{"malformed pool start", func(c *Config) { c.DHCP.PoolStart = "not-an-ip" }, true},
		{"pool start after end", func(c *Config) {
			c.DHCP.PoolStart = "10.0.0.200"
			c.DHCP.PoolEnd = "10.0.0.100"
		}, true},
		{"malformed gateway", func(c *Config) { c.DHCP.Gateway = "nope" }, true},
		{"malformed dns server", func(c *Config) { c.DHCP.DNSServers = []string{"nope"} }, true},
		{"empty tftp root", func(c *Config) { c.TFTP.Root = "" }, true},
		{"empty http root", func(c *Config) { c.HTTP.Root = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOverridesApply(t *testing.T) {
	cfg := Default()
	dhcpPort := 6767
	efi := false
	root := "/custom/tftp"
	o := Overrides{
		DHCPPort:  &dhcpPort,
		EnableEFI: &efi,
		TFTPRoot:  &root,
	}
	o.Apply(cfg)

	if cfg.DHCP.Port != dhcpPort {
		t.Errorf("DHCP.Port = %d, want %d", cfg.DHCP.Port, dhcpPort)
	}
	if cfg.DHCP.Protocols.EFI != false {
		t.Errorf("Protocols.EFI = %v, want false", cfg.DHCP.Protocols.EFI)
	}
	if cfg.TFTP.Root != root {
		t.Errorf("TFTP.Root = %q, want %q", cfg.TFTP.Root, root)
	}
	// Untouched fields must be unaffected.
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("HTTP.Port = %d, want default %d", cfg.HTTP.Port, DefaultHTTPPort)
	}
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gen.toml")

	if err := Write(Default(), path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DHCP.Port != DefaultDHCPPort {
		t.Errorf("DHCP.Port = %d, want %d", cfg.DHCP.Port, DefaultDHCPPort)
	}
	if cfg.TFTP.Port != DefaultTFTPPort {
		t.Errorf("TFTP.Port = %d, want %d", cfg.TFTP.Port, DefaultTFTPPort)
	}
}

func TestDNSServerIPs(t *testing.T) {
	d := DHCPConfig{DNSServers: []string{"8.8.8.8", "1.1.1.1"}}
	ips, err := d.DNSServerIPs()
	if err != nil {
		t.Fatalf("DNSServerIPs: %v", err)
	}
	if len(ips) != 2 || ips[0].String() != "8.8.8.8" || ips[1].String() != "1.1.1.1" {
		t.Errorf("DNSServerIPs = %v, want [8.8.8.8 1.1.1.1]", ips)
	}
}
