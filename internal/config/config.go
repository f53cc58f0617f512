package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
	netutils "k8s.io/utils/net"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/health"
)

// DefaultPath is used when neither a flag nor DNS_FAILOVER_CONFIG names a file.
const DefaultPath = "configs/dns-failover.yaml"

// Config is the complete, immutable input of a failover run.
type Config struct {
	Record   RecordConfig   `yaml:"record"`
	Primary  EndpointConfig `yaml:"primary"`
	Failover EndpointConfig `yaml:"failover"`
	Health   HealthConfig   `yaml:"health"`
	Provider ProviderConfig `yaml:"provider"`
	Daemon   DaemonConfig   `yaml:"daemon"`
}

// RecordConfig identifies the managed record. TTL and Proxied are written
// back on every update.
type RecordConfig struct {
	ZoneID   string `yaml:"zone_id"`
	RecordID string `yaml:"record_id"`
	Hostname string `yaml:"hostname"`
	Type     string `yaml:"type"`
	TTL      int    `yaml:"ttl"`
	Proxied  bool   `yaml:"proxied"`
}

// expandEnv expands ${ENV_VAR} references in the record identifiers so
// zone and record IDs can be supplied per deployment.
func (r *RecordConfig) expandEnv() {
	r.ZoneID = os.ExpandEnv(r.ZoneID)
	r.RecordID = os.ExpandEnv(r.RecordID)
	r.Hostname = os.ExpandEnv(r.Hostname)
}

// EndpointConfig is one server the record may point at.
type EndpointConfig struct {
	IP string `yaml:"ip"`
}

// HealthConfig controls the probe against the primary.
type HealthConfig struct {
	Path               string        `yaml:"path"`
	Port               int           `yaml:"port"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// DaemonConfig is only consulted when running as a long-lived process.
type DaemonConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MetricsAddress string        `yaml:"metrics_address"`
}

// Load reads the configuration from the path in DNS_FAILOVER_CONFIG,
// defaulting to DefaultPath.
func Load() (*Config, error) {
	path := os.Getenv("DNS_FAILOVER_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return LoadFromPath(path)
}

// LoadFromPath reads, defaults and validates the configuration file at path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Record.expandEnv()
	cfg.Provider.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Record.Hostname = strings.TrimSuffix(c.Record.Hostname, ".")
	c.Primary.IP = canonicalIP(c.Primary.IP)
	c.Failover.IP = canonicalIP(c.Failover.IP)
	if c.Record.TTL == 0 {
		c.Record.TTL = 1
	}
	if c.Record.Type == "" && c.Primary.IP != "" {
		c.Record.Type = dns.RecordTypeFor(c.Primary.IP)
	}
	c.Record.Type = strings.ToUpper(c.Record.Type)

	if c.Health.Path == "" {
		c.Health.Path = health.DefaultPath
	}
	if c.Health.Port == 0 {
		c.Health.Port = health.DefaultPort
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = health.DefaultTimeout
	}
	c.Provider.applyDefaults()
}

// canonicalIP returns ip in the form providers publish it, e.g.
// "2001:DB8:0::1" becomes "2001:db8::1". Unparsable input is returned
// unchanged for validate to reject.
func canonicalIP(ip string) string {
	if parsed := netutils.ParseIPSloppy(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}

func (c *Config) validate() error {
	var errs []error
	if c.Record.Hostname == "" {
		errs = append(errs, errors.New("record.hostname is required"))
	}
	if c.Provider.Name == defaultProvider && (c.Record.ZoneID == "" || c.Record.RecordID == "") {
		errs = append(errs, errors.New("record.zone_id and record.record_id are required for cloudflare"))
	}
	if c.Record.Type != "A" && c.Record.Type != "AAAA" {
		errs = append(errs, fmt.Errorf("record.type must be A or AAAA, got %q", c.Record.Type))
	}
	if c.Record.TTL < 0 {
		errs = append(errs, fmt.Errorf("record.ttl must not be negative, got %d", c.Record.TTL))
	}
	for name, ep := range map[string]EndpointConfig{"primary": c.Primary, "failover": c.Failover} {
		if netutils.ParseIPSloppy(ep.IP) == nil {
			errs = append(errs, fmt.Errorf("%s.ip %q is not a valid IP address", name, ep.IP))
		} else if dns.RecordTypeFor(ep.IP) != c.Record.Type {
			errs = append(errs, fmt.Errorf("%s.ip %q does not fit a %s record", name, ep.IP, c.Record.Type))
		}
	}
	if c.Primary.IP != "" && c.Primary.IP == c.Failover.IP {
		errs = append(errs, errors.New("primary.ip and failover.ip must differ"))
	}
	if c.Health.Port < 1 || c.Health.Port > 65535 {
		errs = append(errs, fmt.Errorf("health.port %d out of range", c.Health.Port))
	}
	if c.Health.Timeout < 0 {
		errs = append(errs, errors.New("health.timeout must not be negative"))
	}
	if c.Daemon.Interval < 0 {
		errs = append(errs, errors.New("daemon.interval must not be negative"))
	}
	if err := c.Provider.validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ManagedRecord returns the record reference without content.
func (c *Config) ManagedRecord() dns.Record {
	return dns.Record{
		ZoneID:   c.Record.ZoneID,
		RecordID: c.Record.RecordID,
		Hostname: c.Record.Hostname,
		Type:     c.Record.Type,
		TTL:      c.Record.TTL,
		Proxied:  c.Record.Proxied,
	}
}

func (c *Config) PrimaryEndpoint() health.Endpoint {
	return health.Endpoint{Role: health.RolePrimary, IP: c.Primary.IP}
}

func (c *Config) FailoverEndpoint() health.Endpoint {
	return health.Endpoint{Role: health.RoleFailover, IP: c.Failover.IP}
}

// ProbeOptions returns the health probe settings for the managed hostname.
func (c *Config) ProbeOptions() health.Options {
	return health.Options{
		Hostname:           c.Record.Hostname,
		Path:               c.Health.Path,
		Port:               c.Health.Port,
		Timeout:            c.Health.Timeout,
		InsecureSkipVerify: c.Health.InsecureSkipVerify,
	}
}
