// Package failover decides which endpoint the managed record should point at
// and converges the published record toward it.
package failover

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	netutils "k8s.io/utils/net"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/health"
)

// Action is what a reconcile did to the record.
type Action string

const (
	NoChange           Action = "unchanged"
	SwitchedToPrimary  Action = "switched-to-primary"
	SwitchedToFailover Action = "switched-to-failover"
	// Corrected means the published IP matched neither endpoint and was
	// overwritten with the desired one.
	Corrected Action = "corrected"
)

// Outcome summarizes one reconcile.
type Outcome struct {
	Action    Action
	Health    health.Result
	CurrentIP string
	DesiredIP string
}

// Prober checks the health of an endpoint.
type Prober interface {
	Check(ctx context.Context, ep health.Endpoint) health.Result
}

// Reconciler performs one read, probe, decide, write pass.
type Reconciler struct {
	Log      logr.Logger
	DNS      dns.RecordStore
	Probe    Prober
	Record   dns.Record
	Primary  health.Endpoint
	Failover health.Endpoint
}

// Desired returns the endpoint implied by the primary's health.
func (r *Reconciler) Desired(status health.Status) health.Endpoint {
	if status == health.Healthy {
		return r.Primary
	}
	return r.Failover
}

// Reconcile reads the published record, probes the primary and rewrites the
// record only when it differs from the health-derived target. A read
// failure aborts before any write is attempted.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	log := r.Log.WithValues("hostname", r.Record.Hostname)

	currentIP, err := r.DNS.Get(ctx, r.Record)
	if err != nil {
		log.Error(err, "unable to read published record, skipping update")
		return Outcome{}, fmt.Errorf("reading DNS record for %s: %w", r.Record.Hostname, err)
	}
	log.Info("read published record", "current", currentIP, "at", r.roleOf(currentIP))

	res := r.Probe.Check(ctx, r.Primary)
	if res.Status == health.Healthy {
		log.Info("primary is healthy", "ip", r.Primary.IP, "result", res.Message)
	} else {
		log.Info("primary is unhealthy", "ip", r.Primary.IP, "result", res.Message)
	}

	target := r.Desired(res.Status)
	out := Outcome{Health: res, CurrentIP: currentIP, DesiredIP: target.IP}
	if sameIP(currentIP, target.IP) {
		log.Info("record already points at desired endpoint, nothing to do", "ip", currentIP, "role", target.Role)
		out.Action = NoChange
		return out, nil
	}

	out.Action = r.actionFor(currentIP, target)
	log.Info("record needs update", "from", currentIP, "to", target.IP, "action", out.Action)
	if err := r.DNS.Put(ctx, r.Record.WithContent(target.IP)); err != nil {
		log.Error(err, "unable to update record", "to", target.IP)
		return out, fmt.Errorf("updating DNS record for %s to %s: %w", r.Record.Hostname, target.IP, err)
	}
	log.Info("record updated", "ip", target.IP, "role", target.Role)
	return out, nil
}

func (r *Reconciler) roleOf(ip string) string {
	switch {
	case sameIP(ip, r.Primary.IP):
		return string(health.RolePrimary)
	case sameIP(ip, r.Failover.IP):
		return string(health.RoleFailover)
	}
	return "unknown"
}

func (r *Reconciler) actionFor(currentIP string, target health.Endpoint) Action {
	if !sameIP(currentIP, r.Primary.IP) && !sameIP(currentIP, r.Failover.IP) {
		return Corrected
	}
	if target.Role == health.RolePrimary {
		return SwitchedToPrimary
	}
	return SwitchedToFailover
}

// sameIP compares addresses by value so "2001:DB8::1" matches "2001:db8::1".
// Content that is not an IP only matches itself.
func sameIP(a, b string) bool {
	pa, pb := netutils.ParseIPSloppy(a), netutils.ParseIPSloppy(b)
	if pa == nil || pb == nil {
		return a == b
	}
	return pa.Equal(pb)
}
