package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCrt = "tls_ca.crt"
	crt   = "tls.crt"
	key   = "tls.key"
)

var ErrNoCertificate = errors.New("tls enabled but no certificate configured")

func parseVersion(ver string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(ver), "tls") {
	case "", "default", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported tls version %q", ver)
}

// Setup returns the server tls.Config for cfg, or nil when TLS is disabled.
// Certificates are re-read on every handshake so a rotated pair is picked
// up without a restart.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case cfg.Dir != "":
		certPath, keyPath = filepath.Join(cfg.Dir, crt), filepath.Join(cfg.Dir, key)
		if cfg.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(cfg); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	default:
		return nil, ErrNoCertificate
	}
	// fail at startup rather than on the first handshake
	if _, err := loadPair(certPath, keyPath); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return loadPair(certPath, keyPath)
		},
	}, nil
}

// CACertPath is where a generated certificate is also written for clients
// to trust.
func CACertPath(cfg Config) string {
	if cfg.Dir == "" {
		return ""
	}
	return filepath.Join(cfg.Dir, caCrt)
}

func loadPair(certPath, keyPath string) (*tls.Certificate, error) {
	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse key pair: %w", err)
	}
	return &pair, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(cfg Config) error {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := cfg.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSigned(CertConfig{
		CommonName: hosts[0],
		Hosts:      hosts,
		NotAfter:   time.Now().AddDate(0, 0, days),
		CertPath:   filepath.Join(cfg.Dir, crt),
		KeyPath:    filepath.Join(cfg.Dir, key),
		CACertPath: CACertPath(cfg),
	})
}
