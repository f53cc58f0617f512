// Package health probes the primary server directly by its literal address.
package health

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	DefaultPath    = "/"
	DefaultPort    = 443
	DefaultTimeout = 5 * time.Second
)

// Status is the outcome of a probe. There is no unknown state: a probe that
// cannot complete is Unhealthy.
type Status int

const (
	Unhealthy Status = iota
	Healthy
)

func (s Status) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// Role distinguishes the two configured endpoints.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFailover Role = "failover"
)

// Endpoint is a server address the record can point at.
type Endpoint struct {
	Role Role
	IP   string
}

// Result describes a single probe. Only Status drives decisions; the rest
// is diagnostic.
type Result struct {
	Status     Status
	StatusCode int    // 0 if no HTTP response was received
	Message    string // failure cause or HTTP status text
	CheckedAt  time.Time
	Duration   time.Duration
}

// Options configure a Probe.
type Options struct {
	Hostname           string // presented for SNI and as the Host header
	Path               string
	Port               int
	Timeout            time.Duration
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool // nil uses the system pool
}

// Probe issues HTTPS health checks against an endpoint's literal IP.
type Probe struct {
	opts Options
	log  logr.Logger
}

// NewProbe creates a Probe, filling unset options with defaults.
func NewProbe(log logr.Logger, opts Options) *Probe {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if !strings.HasPrefix(opts.Path, "/") {
		opts.Path = "/" + opts.Path
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Probe{opts: opts, log: log}
}

// client returns a one-shot HTTP client whose every connection goes to addr,
// whatever host the request URL names.
func (p *Probe) client(addr string) *http.Client {
	dialer := &net.Dialer{Timeout: p.opts.Timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig: &tls.Config{
			ServerName:         p.opts.Hostname,
			RootCAs:            p.opts.RootCAs,
			InsecureSkipVerify: p.opts.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
		TLSHandshakeTimeout: p.opts.Timeout,
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   p.opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Check performs a single GET against the endpoint. It never returns an
// error: every failure is reported as Unhealthy with its cause in Message.
func (p *Probe) Check(ctx context.Context, ep Endpoint) Result {
	start := time.Now()
	result := func(status Status, code int, msg string) Result {
		r := Result{Status: status, StatusCode: code, Message: msg, CheckedAt: start, Duration: time.Since(start)}
		p.log.V(1).Info("probe finished", "ip", ep.IP, "status", r.Status.String(), "code", code, "message", msg, "duration", r.Duration)
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	addr := net.JoinHostPort(ep.IP, strconv.Itoa(p.opts.Port))
	url := "https://" + p.opts.Hostname + p.opts.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result(Unhealthy, 0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Host = p.opts.Hostname
	req.Header.Set("User-Agent", "yk-dns-failover")

	client := p.client(addr)
	defer client.CloseIdleConnections()

	resp, err := client.Do(req)
	if err != nil {
		return result(Unhealthy, 0, fmt.Sprintf("request to %s failed: %v", addr, err))
	}
	defer resp.Body.Close()
	// Drain so a truncated body surfaces as a failure.
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20)); err != nil {
		return result(Unhealthy, resp.StatusCode, fmt.Sprintf("reading response from %s failed: %v", addr, err))
	}

	msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result(Unhealthy, resp.StatusCode, msg)
	}
	return result(Healthy, resp.StatusCode, msg)
}
