package tls

// Config enables HTTPS for the API server. Either CertFile and KeyFile name
// an existing pair, or Dir holds tls.crt/tls.key, generated on first use
// when AutoGenerate is set.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"` // "1.2" or "1.3"
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`             // SANs for generated certificates
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// Development returns a config that self-signs a localhost certificate into dir.
func Development(dir string) Config {
	return Config{
		Enabled:      true,
		Dir:          dir,
		AutoGenerate: true,
		Hosts:        []string{"localhost", "127.0.0.1"},
		ValidDays:    365,
	}
}
