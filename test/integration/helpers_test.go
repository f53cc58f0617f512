package integration

import (
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	logrtesting "github.com/go-logr/logr/testing"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/failover"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/health"
)

const (
	hostname   = "example.com"
	failoverIP = "34.56.78.90"
)

// primaryServer is a TLS health endpoint standing in for the primary host.
// Its certificate is valid for example.com, which never resolves to it.
type primaryServer struct {
	srv    *httptest.Server
	status atomic.Int32
	hits   atomic.Int32
}

func newPrimaryServer(t *testing.T) *primaryServer {
	t.Helper()
	p := &primaryServer{}
	p.status.Store(http.StatusOK)
	p.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		if r.Host != hostname || r.URL.Path != "/healthz" {
			http.Error(w, "unexpected request "+r.Host+r.URL.Path, http.StatusBadRequest)
			return
		}
		w.WriteHeader(int(p.status.Load()))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *primaryServer) ip(t *testing.T) string {
	host, _, err := net.SplitHostPort(p.srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return host
}

func (p *primaryServer) probe(t *testing.T) *health.Probe {
	t.Helper()
	_, portStr, _ := net.SplitHostPort(p.srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	pool := x509.NewCertPool()
	pool.AddCert(p.srv.Certificate())
	return health.NewProbe(logrtesting.NewTestLogger(t), health.Options{
		Hostname: hostname,
		Path:     "/healthz",
		Port:     port,
		RootCAs:  pool,
	})
}

func newReconciler(t *testing.T, store dns.RecordStore, primary *primaryServer, record dns.Record) *failover.Reconciler {
	t.Helper()
	return &failover.Reconciler{
		Log:      logrtesting.NewTestLogger(t),
		DNS:      store,
		Probe:    primary.probe(t),
		Record:   record,
		Primary:  health.Endpoint{Role: health.RolePrimary, IP: primary.ip(t)},
		Failover: health.Endpoint{Role: health.RoleFailover, IP: failoverIP},
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
