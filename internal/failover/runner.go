package failover

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/health"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/metrics"
)

// Runner drives a Reconciler either once or on an interval. Concurrent
// triggers share the in-flight reconcile instead of starting another.
type Runner struct {
	Reconciler *Reconciler
	Log        logr.Logger

	group singleflight.Group

	mu      sync.Mutex
	lastErr error
	ran     bool
}

// RunOnce performs a single reconcile and records its metrics.
func (r *Runner) RunOnce(ctx context.Context) (Outcome, error) {
	v, err, shared := r.group.Do("reconcile", func() (interface{}, error) {
		out, err := r.Reconciler.Reconcile(ctx)
		r.observe(out, err)
		return out, err
	})
	if shared {
		r.Log.V(1).Info("joined in-flight reconcile")
	}
	return v.(Outcome), err
}

// Run reconciles every interval until ctx is cancelled. The next period
// starts only after the previous reconcile has finished. Failures are
// logged and left to the next tick.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	r.Log.Info("starting reconcile loop", "interval", interval)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil {
			r.Log.Error(err, "reconcile failed, will retry next interval")
		}
	}, interval)
	r.Log.Info("reconcile loop stopped")
}

// Ready is a healthz checker reporting whether the last reconcile succeeded.
func (r *Runner) Ready(_ *http.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ran {
		return errors.New("no reconcile has completed yet")
	}
	return r.lastErr
}

func (r *Runner) observe(out Outcome, err error) {
	r.mu.Lock()
	r.ran = true
	r.lastErr = err
	r.mu.Unlock()

	if !out.Health.CheckedAt.IsZero() {
		metrics.ProbeDuration.Observe(out.Health.Duration.Seconds())
		if out.Health.Status == health.Healthy {
			metrics.PrimaryHealthy.Set(1)
		} else {
			metrics.PrimaryHealthy.Set(0)
		}
	}

	metrics.RunsTotal.WithLabelValues(resultLabel(out, err)).Inc()
	if err == nil {
		metrics.LastSuccessTimestamp.SetToCurrentTime()
	}
}

func resultLabel(out Outcome, err error) string {
	switch {
	case err == nil:
		return string(out.Action)
	case errors.Is(err, dns.ErrRead):
		return "read_error"
	case errors.Is(err, dns.ErrWrite):
		return "write_error"
	}
	return "error"
}
