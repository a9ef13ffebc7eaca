package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"icsagenda/internal/config"
	"icsagenda/internal/ics"
	appLog "icsagenda/internal/log"
	"icsagenda/internal/metrics"
	"icsagenda/internal/store"
	"icsagenda/internal/syncer"
	"icsagenda/internal/web"
)

const version = "0.3.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dump       bool
}

func main() {
	os.Exit(run())
}

func run() int {
	appLog.Info("icsagenda starting", "version", version)

	// Parse CLI flags.
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh_seconds", conf.RefreshSeconds,
		"refresh_cron", conf.RefreshCron,
		"max_events", conf.MaxEvents,
		"on_all_failed", conf.OnAllFailed,
		"store", conf.Store.Driver,
		"feed_count", len(conf.Feeds),
		"once", flags.once,
		"dump", flags.dump,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.NewBackend(ctx, conf.Store)
	if err != nil {
		appLog.Error("failed to open store", err, "driver", conf.Store.Driver)
		return 1
	}
	st, err := store.Open(ctx, backend)
	if err != nil {
		appLog.Error("failed to load snapshot", err, "driver", conf.Store.Driver)
		_ = backend.Close()
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("store close failed", err)
		}
	}()

	feeds, err := syncer.FeedsFromConfig(conf)
	if err != nil {
		appLog.Error("invalid feed configuration", err)
		return 1
	}

	m := metrics.New()
	m.SetSnapshot(st.Len(), st.LastModified())

	var fetchOpts []ics.Option
	if conf.CacheDir != "" {
		fetchOpts = append(fetchOpts, ics.WithCacheDir(conf.CacheDir))
	}
	syncOpts, err := syncer.OptionsFromConfig(conf, m)
	if err != nil {
		appLog.Error("invalid sync configuration", err)
		return 1
	}
	syn, err := syncer.New(feeds, ics.NewFetcher(fetchOpts...), st, syncOpts)
	if err != nil {
		appLog.Error("failed to build syncer", err)
		return 1
	}

	if flags.once || flags.dump {
		return runOnce(ctx, syn, st, flags)
	}

	srv, err := web.NewServer(st, web.Options{
		Location:  syncOpts.Location,
		MaxEvents: conf.MaxEvents,
		Metrics:   m,
	})
	if err != nil {
		appLog.Error("failed to build web server", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, conf.Listen)
	})
	g.Go(func() error {
		// Cancellation is the normal way out.
		_ = syn.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		appLog.Error("server exited", err)
		return 1
	}
	appLog.Info("icsagenda exiting")
	return 0
}

// runOnce runs a single cycle without the grace delay. With -dump the
// resulting snapshot is written to stdout as JSON.
func runOnce(ctx context.Context, syn *syncer.Syncer, st *store.Store, flags flagConfig) int {
	code := 0
	if flags.once {
		report, err := syn.RunOnce(ctx)
		if err != nil {
			code = 1
		}
		appLog.Info("single cycle finished",
			"committed", report.Committed,
			"failed_feeds", report.Failed(),
			"took", report.Duration.String(),
		)
	}

	if flags.dump {
		snap := st.Snapshot()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		out := struct {
			LastUpdate string `json:"last_update"`
			Events     any    `json:"events"`
		}{store.FormatStamp(snap.LastModified), snap.Events}
		if err := enc.Encode(out); err != nil {
			appLog.Error("dump failed", err)
			return 1
		}
	}
	return code
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/icsagenda/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync cycle immediately and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "Print the current snapshot as JSON and exit (after the cycle with -once)")

	flag.Parse()

	return cfg
}
