package config

import (
	"errors"
	"os"
	"time"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
)

const (
	defaultProvider        = "cloudflare"
	defaultProviderTimeout = 10 * time.Second
)

// ProviderConfig holds the DNS provider type, client timeout, and
// provider-specific connection settings.
type ProviderConfig struct {
	Name     string            `yaml:"name"`
	Timeout  time.Duration     `yaml:"timeout"`
	Settings map[string]string `yaml:"settings"`
}

// expandEnv expands ${ENV_VAR} references in setting values so credentials
// can stay out of the file.
func (p *ProviderConfig) expandEnv() {
	for k, v := range p.Settings {
		p.Settings[k] = os.ExpandEnv(v)
	}
}

func (p *ProviderConfig) applyDefaults() {
	if p.Name == "" {
		p.Name = defaultProvider
	}
	if p.Timeout == 0 {
		p.Timeout = defaultProviderTimeout
	}
	if p.Settings == nil {
		p.Settings = map[string]string{}
	}
}

func (p *ProviderConfig) validate() error {
	if p.Timeout < 0 {
		return errors.New("provider.timeout must not be negative")
	}
	return nil
}

// Options returns the settings handed to the provider factory.
func (p *ProviderConfig) Options() dns.Options {
	return dns.Options{Settings: p.Settings, Timeout: p.Timeout}
}
