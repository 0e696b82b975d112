package config

const (
	// DefaultDaemonHost is the loopback address the daemon binds by default.
	DefaultDaemonHost = "127.0.0.1"

	// DefaultDaemonPort is the default port for the daemon's HTTP API.
	DefaultDaemonPort = 7911

	// DefaultRedirectPath is the default callback path for PKCE flows.
	DefaultRedirectPath = "/callback"
)

// GetDefaultConfig returns the default configuration: a loopback daemon and
// an empty provider catalogue.
func GetDefaultConfig() Config {
	return Config{
		Daemon: DaemonConfig{
			Host: DefaultDaemonHost,
			Port: DefaultDaemonPort,
		},
	}
}
