package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	logrtesting "github.com/go-logr/logr/testing"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/failover"
)

const recordPath = "/client/v4/zones/zone123/dns_records/rec456"

// fakeCloudflare is a minimal in-memory Cloudflare record endpoint.
type fakeCloudflare struct {
	mu         sync.Mutex
	content    string
	readStatus int
	puts       []map[string]interface{}
	calls      []string
}

func (f *fakeCloudflare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	if r.URL.Path != recordPath {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]interface{}{"success": false, "errors": []map[string]interface{}{{"code": 10000, "message": "Authentication error"}}})
		return
	}

	switch r.Method {
	case http.MethodGet:
		if f.readStatus != 0 {
			w.WriteHeader(f.readStatus)
			writeJSON(w, map[string]interface{}{"success": false, "errors": []map[string]interface{}{{"code": 1000, "message": "internal error"}}})
			return
		}
		writeJSON(w, map[string]interface{}{
			"success": true,
			"result":  map[string]interface{}{"id": "rec456", "name": hostname, "type": "A", "content": f.content, "ttl": 1, "proxied": true},
		})
	case http.MethodPut:
		var body map[string]interface{}
		if err := readJSON(r, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, body)
		f.content, _ = body["content"].(string)
		writeJSON(w, map[string]interface{}{"success": true, "result": body})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newCloudflareStore(t *testing.T, fake *fakeCloudflare, token string) dns.RecordStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := dns.NewRecordStore("cloudflare", logrtesting.NewTestLogger(t), dns.Options{Settings: map[string]string{
		"base_url":  srv.URL + "/client/v4",
		"api_token": token,
	}})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return store
}

var cloudflareRecord = dns.Record{
	ZoneID:   "zone123",
	RecordID: "rec456",
	Hostname: hostname,
	Type:     "A",
	TTL:      1,
	Proxied:  true,
}

func TestCloudflareFailover_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		start      string // "primary", "failover" or a literal IP
		status     int
		wantWrites int
		wantFinal  string
		wantAction failover.Action
	}{
		{"A: recover to primary", "failover", http.StatusOK, 1, "primary", failover.SwitchedToPrimary},
		{"B: steady at primary", "primary", http.StatusOK, 0, "primary", failover.NoChange},
		{"C: fail over", "primary", http.StatusServiceUnavailable, 1, "failover", failover.SwitchedToFailover},
		{"steady at failover", "failover", http.StatusInternalServerError, 0, "failover", failover.NoChange},
		{"out-of-band change", "203.0.113.7", http.StatusOK, 1, "primary", failover.Corrected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := newPrimaryServer(t)
			primary.status.Store(int32(tt.status))
			resolve := func(s string) string {
				switch s {
				case "primary":
					return primary.ip(t)
				case "failover":
					return failoverIP
				}
				return s
			}

			fake := &fakeCloudflare{content: resolve(tt.start)}
			r := newReconciler(t, newCloudflareStore(t, fake, "test-token"), primary, cloudflareRecord)

			out, err := r.Reconcile(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Action != tt.wantAction {
				t.Errorf("expected action %q, got %q", tt.wantAction, out.Action)
			}
			if len(fake.puts) != tt.wantWrites {
				t.Fatalf("expected %d writes, got %d (calls %v)", tt.wantWrites, len(fake.puts), fake.calls)
			}
			if fake.content != resolve(tt.wantFinal) {
				t.Errorf("expected published %q, got %q", resolve(tt.wantFinal), fake.content)
			}
			if primary.hits.Load() != 1 {
				t.Errorf("expected one health probe, got %d", primary.hits.Load())
			}
			for _, body := range fake.puts {
				if body["ttl"] != float64(1) || body["proxied"] != true || body["type"] != "A" || body["name"] != hostname {
					t.Errorf("write did not reassert record attributes: %v", body)
				}
			}
		})
	}
}

// Scenario D: the provider read fails, so nothing may be written.
func TestCloudflareFailover_ReadFailure(t *testing.T) {
	primary := newPrimaryServer(t)
	primary.status.Store(http.StatusServiceUnavailable)
	fake := &fakeCloudflare{content: "192.168.1.100", readStatus: http.StatusInternalServerError}
	r := newReconciler(t, newCloudflareStore(t, fake, "test-token"), primary, cloudflareRecord)
	runner := &failover.Runner{Reconciler: r, Log: logrtesting.NewTestLogger(t)}

	_, err := runner.RunOnce(context.Background())
	if !errors.Is(err, dns.ErrRead) {
		t.Fatalf("expected ErrRead, got %v", err)
	}
	if len(fake.puts) != 0 {
		t.Errorf("expected no writes, got %d", len(fake.puts))
	}
	if primary.hits.Load() != 0 {
		t.Errorf("expected no probe after failed read, got %d", primary.hits.Load())
	}
}

func TestCloudflareFailover_AuthFailure(t *testing.T) {
	primary := newPrimaryServer(t)
	fake := &fakeCloudflare{content: failoverIP}
	r := newReconciler(t, newCloudflareStore(t, fake, "wrong-token"), primary, cloudflareRecord)

	_, err := r.Reconcile(context.Background())
	if !errors.Is(err, dns.ErrAuth) || !errors.Is(err, dns.ErrRead) {
		t.Fatalf("expected ErrAuth on read, got %v", err)
	}
	if len(fake.puts) != 0 {
		t.Errorf("expected no writes, got %d", len(fake.puts))
	}
}

func TestCloudflareFailover_RoundTrip(t *testing.T) {
	primary := newPrimaryServer(t)
	fake := &fakeCloudflare{}
	fake.content = primary.ip(t)
	r := newReconciler(t, newCloudflareStore(t, fake, "test-token"), primary, cloudflareRecord)
	ctx := context.Background()

	steps := []struct {
		status int
		want   string
	}{
		{http.StatusOK, primary.ip(t)},
		{http.StatusBadGateway, failoverIP},
		{http.StatusBadGateway, failoverIP},
		{http.StatusOK, primary.ip(t)},
		{http.StatusOK, primary.ip(t)},
	}
	for i, s := range steps {
		primary.status.Store(int32(s.status))
		if _, err := r.Reconcile(ctx); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if fake.content != s.want {
			t.Errorf("step %d: expected %q, got %q", i, s.want, fake.content)
		}
	}
	if len(fake.puts) != 2 {
		t.Errorf("expected exactly two writes over the round trip, got %d", len(fake.puts))
	}
}
