// finiky is a PXE boot server: DHCP option negotiation and boot-file
// selection, a TFTP read service, and a static HTTP file service, backed by
// a shared virtual filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llfl/finiky/internal/config"
	"github.com/llfl/finiky/internal/dhcp"
	"github.com/llfl/finiky/internal/httpserver"
	"github.com/llfl/finiky/internal/lease"
	"github.com/llfl/finiky/internal/logging"
	"github.com/llfl/finiky/internal/metrics"
	"github.com/llfl/finiky/internal/pool"
	"github.com/llfl/finiky/internal/tftp"
	"github.com/llfl/finiky/internal/vfs"
)

// shutdownGrace bounds how long Run waits for the three listeners to
// observe cancellation before returning.
const shutdownGrace = 5 * time.Second

// version is reported on the server_info metric; there is no build-time
// version stamping in this repository yet.
const version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "gen-config":
		err = runGenConfig(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "finiky: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "finiky: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  finiky gen-config [PATH]
  finiky start [--config PATH] [--dhcp-port N] [--tftp-port N] [--http-port N]
               [--tftp-root PATH] [--http-root PATH] [--enable-efi BOOL] [--enable-legacy BOOL]`)
}

func runGenConfig(args []string) error {
	path := "config.toml"
	if len(args) > 0 {
		path = args[0]
	}
	if err := config.Write(config.Default(), path); err != nil {
		return fmt.Errorf("writing default config to %s: %w", path, err)
	}
	fmt.Printf("wrote default configuration to %s\n", path)
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	dhcpPort := fs.Int("dhcp-port", 0, "override dhcp.port")
	tftpPort := fs.Int("tftp-port", 0, "override tftp.port")
	httpPort := fs.Int("http-port", 0, "override http.port")
	tftpRoot := fs.String("tftp-root", "", "override tftp.root")
	httpRoot := fs.String("http-root", "", "override http.root")
	enableEFI := fs.String("enable-efi", "", "override dhcp.protocols.efi (true/false)")
	enableLegacy := fs.String("enable-legacy", "", "override dhcp.protocols.legacy (true/false)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	overrides := config.Overrides{}
	if *dhcpPort != 0 {
		overrides.DHCPPort = dhcpPort
	}
	if *tftpPort != 0 {
		overrides.TFTPPort = tftpPort
	}
	if *httpPort != 0 {
		overrides.HTTPPort = httpPort
	}
	if *tftpRoot != "" {
		overrides.TFTPRoot = tftpRoot
	}
	if *httpRoot != "" {
		overrides.HTTPRoot = httpRoot
	}
	if b, ok, err := parseBoolFlag(*enableEFI); err != nil {
		return err
	} else if ok {
		overrides.EnableEFI = &b
	}
	if b, ok, err := parseBoolFlag(*enableLegacy); err != nil {
		return err
	} else if ok {
		overrides.EnableLegacy = &b
	}
	overrides.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	if envLevel := os.Getenv("FINIKY_LOG"); envLevel != "" {
		cfg.Server.LogLevel = envLevel
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("finiky starting", "dhcp_port", cfg.DHCP.Port, "tftp_port", cfg.TFTP.Port, "http_port", cfg.HTTP.Port)

	return Run(cfg, logger)
}

func parseBoolFlag(v string) (result bool, ok bool, err error) {
	switch v {
	case "":
		return false, false, nil
	case "true", "1":
		return true, true, nil
	case "false", "0":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("invalid boolean value %q", v)
	}
}

// listener is the common lifecycle every protocol server exposes.
type listener interface {
	Start(ctx context.Context) error
	Stop()
}

// Run wires the three listener tasks atop shared VFS roots and blocks until
// SIGINT/SIGTERM, then performs cooperative shutdown with a grace period.
func Run(cfg *config.Config, logger *slog.Logger) error {
	tftpRoot, err := vfs.Open(cfg.TFTP.Root)
	if err != nil {
		return fmt.Errorf("opening tftp root %s: %w", cfg.TFTP.Root, err)
	}
	httpRoot := tftpRoot
	if cfg.HTTP.Root != cfg.TFTP.Root {
		httpRoot, err = vfs.Open(cfg.HTTP.Root)
		if err != nil {
			return fmt.Errorf("opening http root %s: %w", cfg.HTTP.Root, err)
		}
	}

	serverIP, err := resolveServerIP(cfg)
	if err != nil {
		return fmt.Errorf("resolving DHCP server identifier address: %w", err)
	}

	poolStart, err := cfg.DHCP.PoolStartIP()
	if err != nil {
		return err
	}
	poolEnd, err := cfg.DHCP.PoolEndIP()
	if err != nil {
		return err
	}
	gateway, err := cfg.DHCP.GatewayIP()
	if err != nil {
		return err
	}
	nextServer, err := cfg.DHCP.NextServerIP()
	if err != nil {
		return err
	}

	alloc, err := pool.NewAllocator(poolStart, poolEnd, gateway, nextServer)
	if err != nil {
		return fmt.Errorf("initializing address pool: %w", err)
	}

	leases := lease.NewManager(logger)
	handler, err := dhcp.NewHandler(cfg, leases, alloc, serverIP, logger)
	if err != nil {
		return fmt.Errorf("initializing DHCP handler: %w", err)
	}

	iface := ""
	if cfg.DHCP.Interface != nil {
		iface = *cfg.DHCP.Interface
	}

	dhcpSrv := dhcp.NewServer(handler, cfg.DHCP.Port, iface, logger)
	tftpSrv := tftp.NewServer(tftpRoot, cfg.TFTP.Port, 0, logger)
	httpSrv := httpserver.NewServer(httpRoot, cfg.HTTP.Port, logger)

	listeners := []listener{dhcpSrv, tftpSrv, httpSrv}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, l := range listeners {
		if err := l.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("starting listener: %w", err)
		}
	}

	metrics.ServerStartTime.SetToCurrentTime()
	metrics.ServerInfo.WithLabelValues(version).Set(1)

	logger.Info("finiky ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	stopped := make(chan struct{})
	go func() {
		for _, l := range listeners {
			l.Stop()
		}
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace period elapsed, exiting with tasks still stopping")
	}

	logger.Info("finiky stopped")
	return nil
}

// resolveServerIP picks the address advertised as DHCP option 54 (server
// identifier). If an interface is configured, its first IPv4 address is
// used; otherwise the configured next-server address stands in for it, on
// the assumption of a single-homed boot server.
func resolveServerIP(cfg *config.Config) (net.IP, error) {
	if cfg.DHCP.Interface != nil {
		iface, err := net.InterfaceByName(*cfg.DHCP.Interface)
		if err != nil {
			return nil, err
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok {
				if ip4 := ipn.IP.To4(); ip4 != nil {
					return ip4, nil
				}
			}
		}
		return nil, fmt.Errorf("interface %s has no IPv4 address", *cfg.DHCP.Interface)
	}
	return cfg.DHCP.NextServerIP()
}
