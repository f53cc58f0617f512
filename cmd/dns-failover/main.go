package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns"
	_ "github.com/yuriy-kovalchuk/yk-dns-failover/internal/dns/providers"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/failover"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/health"
	"github.com/yuriy-kovalchuk/yk-dns-failover/internal/metrics"
)

var Version = "dev"

func main() {
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	configPath := flag.String("config", "", "path to the config file (default $DNS_FAILOVER_CONFIG or "+config.DefaultPath+")")
	interval := flag.Duration("interval", 0, "reconcile on this interval instead of running once (overrides daemon.interval)")
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := run(ctrl.SetupSignalHandler(), *configPath, *interval); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, interval time.Duration) error {
	log := ctrl.Log.WithName("setup")

	log.Info("starting yk-dns-failover", "version", Version)

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	log.Info("loaded config", "hostname", cfg.Record.Hostname, "provider", cfg.Provider.Name,
		"primary", cfg.Primary.IP, "failover", cfg.Failover.IP)

	store, err := dns.NewRecordStore(cfg.Provider.Name, ctrl.Log.WithName("dns-"+cfg.Provider.Name), cfg.Provider.Options())
	if err != nil {
		return fmt.Errorf("unable to create DNS provider: %w", err)
	}

	runner := &failover.Runner{
		Reconciler: &failover.Reconciler{
			Log:      ctrl.Log.WithName("reconciler"),
			DNS:      store,
			Probe:    health.NewProbe(ctrl.Log.WithName("probe"), cfg.ProbeOptions()),
			Record:   cfg.ManagedRecord(),
			Primary:  cfg.PrimaryEndpoint(),
			Failover: cfg.FailoverEndpoint(),
		},
		Log: ctrl.Log.WithName("runner"),
	}

	if interval == 0 {
		interval = cfg.Daemon.Interval
	}
	if interval == 0 {
		out, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		log.Info("run complete", "action", out.Action, "ip", out.DesiredIP)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx, interval)
		return nil
	})
	if addr := cfg.Daemon.MetricsAddress; addr != "" {
		g.Go(func() error {
			if err := metrics.Serve(gctx, ctrl.Log.WithName("metrics"), addr, runner.Ready); err != nil {
				return fmt.Errorf("metrics server exited with error: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
