package config

// Default configuration values, used when a field is absent from a loaded
// TOML file and when writing a fresh config via gen-config.
const (
	DefaultLogLevel = "info"

	DefaultDHCPPort     = 67
	DefaultDHCPPoolSize = 100

	DefaultTFTPPort = 69
	DefaultTFTPRoot = "/srv/tftpboot"

	DefaultHTTPPort = 8080
	DefaultHTTPRoot = "/srv/tftpboot"

	DefaultLeaseTimeSeconds = 7200
)
