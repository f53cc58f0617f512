package cloudflare

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
)

const (
	providerName   = "cloudflare"
	defaultBaseURL = "https://api.cloudflare.com/client/v4"
	defaultTimeout = 10 * time.Second

	// maxPayload bounds how much of a response body is kept for diagnostics.
	maxPayload = 64 << 10
)

func init() {
	dns.Register(providerName, func(log logr.Logger, opts dns.Options) (dns.RecordStore, error) {
		return New(log, opts)
	})
}

// Provider implements dns.RecordStore against the Cloudflare v4 API.
type Provider struct {
	baseURL  string
	apiToken string
	apiEmail string
	apiKey   string
	client   *http.Client
	log      logr.Logger
}

// New creates a Cloudflare record store from the given options.
// Credentials: either api_token, or api_email together with api_key.
// Optional settings: base_url, skip_tls_verify (default false).
func New(log logr.Logger, opts dns.Options) (*Provider, error) {
	settings := opts.Settings
	p := &Provider{
		baseURL:  settings["base_url"],
		apiToken: settings["api_token"],
		apiEmail: settings["api_email"],
		apiKey:   settings["api_key"],
		log:      log,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.apiToken == "" {
		if p.apiEmail == "" || p.apiKey == "" {
			return nil, fmt.Errorf("cloudflare: missing credentials: set 'api_token' or both 'api_email' and 'api_key'")
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if settings["skip_tls_verify"] == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	p.client = &http.Client{Transport: transport, Timeout: timeout}
	return p, nil
}

// envelope is the response wrapper shared by every v4 endpoint.
type envelope struct {
	Success  *bool          `json:"success"`
	Errors   []apiMessage   `json:"errors"`
	Messages []apiMessage   `json:"messages"`
	Result   *recordPayload `json:"result"`

	statusCode int
	raw        []byte
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// recordPayload is both the PUT body and the result of a record lookup.
type recordPayload struct {
	ID      string  `json:"id,omitempty"`
	Type    string  `json:"type"`
	Name    string  `json:"name"`
	Content *string `json:"content"`
	TTL     int     `json:"ttl"`
	Proxied bool    `json:"proxied"`
}

func recordPath(record dns.Record) (string, error) {
	if record.ZoneID == "" || record.RecordID == "" {
		return "", errors.New("record zone and record IDs are required")
	}
	return fmt.Sprintf("zones/%s/dns_records/%s", record.ZoneID, record.RecordID), nil
}

// doRequest builds and executes an HTTP request against the Cloudflare API
// and returns the status code together with the (bounded) response body.
func (p *Provider) doRequest(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	if p.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
	} else {
		req.Header.Set("X-Auth-Email", p.apiEmail)
		req.Header.Set("X-Auth-Key", p.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// call performs one API round trip and decodes the envelope. Any transport
// failure, non-2xx status, undecodable body or success:false becomes a
// *dns.ProviderError tagged with op.
func (p *Provider) call(ctx context.Context, op error, method, path string, body interface{}) (*envelope, error) {
	status, data, err := p.doRequest(ctx, method, path, body)
	fail := func(err error) error {
		return &dns.ProviderError{Provider: providerName, Op: op, StatusCode: status, Payload: string(data), Err: err}
	}
	if err != nil {
		return nil, fail(err)
	}
	if status < 200 || status > 299 {
		return nil, fail(nil)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fail(fmt.Errorf("decode response: %w", err))
	}
	if env.Success == nil {
		return nil, fail(errors.New("decode response: missing 'success' field"))
	}
	if !*env.Success {
		return nil, fail(fmt.Errorf("request unsuccessful: %s", joinMessages(env.Errors)))
	}
	env.statusCode, env.raw = status, data
	for _, m := range env.Messages {
		p.log.V(1).Info("provider message", "code", m.Code, "message", m.Message)
	}
	return &env, nil
}

// Get returns the content currently published for the record.
func (p *Provider) Get(ctx context.Context, record dns.Record) (string, error) {
	p.log.V(1).Info("reading record", "zone", record.ZoneID, "record", record.RecordID)

	path, err := recordPath(record)
	if err != nil {
		return "", &dns.ProviderError{Provider: providerName, Op: dns.ErrRead, Err: err}
	}
	env, err := p.call(ctx, dns.ErrRead, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	if env.Result == nil || env.Result.Content == nil {
		return "", &dns.ProviderError{
			Provider:   providerName,
			Op:         dns.ErrRead,
			StatusCode: env.statusCode,
			Payload:    string(env.raw),
			Err:        errors.New("decode response: missing 'result.content' field"),
		}
	}

	p.log.V(1).Info("record read", "name", env.Result.Name, "content", *env.Result.Content)
	return *env.Result.Content, nil
}

// Put replaces the record with the given content, TTL and proxied setting.
func (p *Provider) Put(ctx context.Context, record dns.Record) error {
	p.log.Info("updating record", "hostname", record.Hostname, "type", record.Type, "content", record.Content)

	path, err := recordPath(record)
	if err != nil {
		return &dns.ProviderError{Provider: providerName, Op: dns.ErrWrite, Err: err}
	}
	content := record.Content
	body := recordPayload{
		Type:    record.Type,
		Name:    record.Hostname,
		Content: &content,
		TTL:     record.TTL,
		Proxied: record.Proxied,
	}
	if _, err := p.call(ctx, dns.ErrWrite, http.MethodPut, path, body); err != nil {
		return err
	}

	p.log.Info("record updated", "record", record.RecordID)
	return nil
}

func joinMessages(msgs []apiMessage) string {
	if len(msgs) == 0 {
		return "no error details"
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, fmt.Sprintf("%d %s", m.Code, m.Message))
	}
	return strings.Join(parts, "; ")
}
