package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
)

const (
	providerName   = "opnsense"
	defaultTimeout = 10 * time.Second

	// maxPayload bounds how much of a response body is read and kept.
	maxPayload = 64 << 10
)

func init() {
	dns.Register(providerName, func(log logr.Logger, opts dns.Options) (dns.RecordStore, error) {
		return New(log, opts)
	})
}

// Provider implements dns.RecordStore for OPNsense Unbound host overrides.
// Overrides are matched by hostname and record type; zone and record IDs
// are not used.
type Provider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       logr.Logger
}

// New creates an OPNsense record store from the given options.
// Required settings: base_url, api_key, api_secret.
// Optional settings: skip_tls_verify (default false). Unbound overrides
// carry no TTL, so record TTL and proxied are ignored.
func New(log logr.Logger, opts dns.Options) (*Provider, error) {
	settings := opts.Settings
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'base_url'")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_key'")
	}
	apiSecret := settings["api_secret"]
	if apiSecret == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_secret'")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Provider{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		log:       log,
	}, nil
}

// do sends body to path and decodes a 200 response into out. Failures
// are reported as *dns.ProviderError tagged with op.
func (p *Provider) do(ctx context.Context, op error, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return p.fail(op, 0, nil, fmt.Errorf("marshal request body: %w", err))
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return p.fail(op, 0, nil, fmt.Errorf("build request: %w", err))
	}

	req.SetBasicAuth(p.apiKey, p.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.fail(op, 0, nil, fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return p.fail(op, resp.StatusCode, nil, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return p.fail(op, resp.StatusCode, data, fmt.Errorf("%s returned status %d", path, resp.StatusCode))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return p.fail(op, resp.StatusCode, data, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}

func (p *Provider) fail(op error, status int, payload []byte, err error) error {
	return &dns.ProviderError{Provider: providerName, Op: op, StatusCode: status, Payload: string(payload), Err: err}
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	var result struct {
		Status string `json:"status"`
	}
	if err := p.do(ctx, dns.ErrWrite, http.MethodPost, "unbound/service/reconfigure", struct{}{}, &result); err != nil {
		return err
	}
	p.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Enabled  string `json:"enabled"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
}

// findOverride returns the host override matching the record's hostname and
// type, or nil if none exists. An enabled row wins over a disabled one.
func (p *Provider) findOverride(ctx context.Context, op error, record dns.Record) (*hostRow, error) {
	var sr searchResponse
	if err := p.do(ctx, op, http.MethodGet, "unbound/settings/searchHostOverride", nil, &sr); err != nil {
		return nil, err
	}

	host, domain := dns.SplitHostname(record.Hostname)
	var disabled *hostRow
	for i, row := range sr.Rows {
		if !strings.EqualFold(row.Hostname, host) ||
			!strings.EqualFold(row.Domain, domain) ||
			!strings.EqualFold(row.RR, record.Type) {
			continue
		}
		if row.disabled() {
			if disabled == nil {
				disabled = &sr.Rows[i]
			}
			continue
		}
		return &sr.Rows[i], nil
	}
	return disabled, nil
}

func (r *hostRow) disabled() bool {
	return r.Enabled == "0"
}

// buildHostBody creates the JSON body for add/set host override calls.
func buildHostBody(record dns.Record) map[string]interface{} {
	host, domain := dns.SplitHostname(record.Hostname)
	return map[string]interface{}{
		"host": map[string]string{
			"enabled":     "1",
			"hostname":    host,
			"domain":      domain,
			"rr":          record.Type,
			"server":      record.Content,
			"description": "managed by yk-dns-failover",
			"mxprio":      "",
			"mx":          "",
		},
	}
}

// Get returns the server address of the matching host override, or an
// empty string when that override is disabled.
func (p *Provider) Get(ctx context.Context, record dns.Record) (string, error) {
	p.log.V(1).Info("reading record", "hostname", record.Hostname, "type", record.Type)
	row, err := p.findOverride(ctx, dns.ErrRead, record)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", p.fail(dns.ErrRead, 0, nil, fmt.Errorf("no override found for %s/%s", record.Hostname, record.Type))
	}
	// A disabled override answers nothing; Put re-enables it.
	if row.disabled() {
		p.log.V(1).Info("host override is disabled", "uuid", row.UUID, "server", row.Server)
		return "", nil
	}
	return row.Server, nil
}

// Put sets the host override to the record's content, creating it when it
// does not exist yet, and applies the change.
func (p *Provider) Put(ctx context.Context, record dns.Record) error {
	p.log.Info("updating record", "hostname", record.Hostname, "type", record.Type, "content", record.Content)

	row, err := p.findOverride(ctx, dns.ErrWrite, record)
	if err != nil {
		return err
	}

	path := "unbound/settings/addHostOverride"
	if row != nil {
		path = "unbound/settings/setHostOverride/" + row.UUID
	}

	var result struct {
		Result string `json:"result"`
		UUID   string `json:"uuid"`
	}
	if err := p.do(ctx, dns.ErrWrite, http.MethodPost, path, buildHostBody(record), &result); err != nil {
		return err
	}
	if result.Result != "saved" {
		return p.fail(dns.ErrWrite, http.StatusOK, nil, fmt.Errorf("%s unexpected result: %s", path, result.Result))
	}

	p.log.Info("record saved", "path", path)
	return p.reconfigure(ctx)
}
