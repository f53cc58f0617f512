package dns

import "context"

// Record identifies the managed DNS record and carries the attributes that
// are re-asserted on every write.
type Record struct {
	ZoneID   string // provider zone identifier
	RecordID string // provider record identifier
	Hostname string // FQDN, e.g. "app.example.com"
	Type     string // "A" or "AAAA"
	Content  string // IP address; ignored by Get
	TTL      int    // 1 = provider automatic
	Proxied  bool
}

// WithContent returns a copy of r publishing ip.
func (r Record) WithContent(ip string) Record {
	r.Content = ip
	return r
}

// RecordStore reads and replaces the content of a single DNS record.
type RecordStore interface {
	// Get returns the currently published content of the record.
	Get(ctx context.Context, record Record) (string, error)
	// Put republishes the record in full. Calling it twice with the same
	// record is safe.
	Put(ctx context.Context, record Record) error
}
