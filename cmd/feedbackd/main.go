// Command feedbackd boots the dispatcher runtime: load the event
// catalog and plugins, register the reference sinks/inputs, start the
// event loop, and block until an OS signal arrives. Bootstrap shape
// (flag parsing, context.Background()+signal cancellation, start/wait)
// is grounded on example.go's main().
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bgpfix/feedbackd/config"
	"github.com/bgpfix/feedbackd/dispatcher"
	"github.com/bgpfix/feedbackd/internal/refinput"
	"github.com/bgpfix/feedbackd/internal/refsink"
	"github.com/bgpfix/feedbackd/plugin"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitInitFailure = 2
)

var (
	optConfPath      = flag.String("conf", "", "event catalog file or directory (overrides CONF_PATH)")
	optPluginPath    = flag.String("plugins", "", "plugin parameter directory (overrides PLUGIN_PATH)")
	optListenMetrics = flag.String("listen-metrics", "", "address to serve Prometheus metrics on, empty to disable")
	optWatch         = flag.Bool("watch", false, "hot-reload the event catalog on file change")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	confPath := firstNonEmpty(*optConfPath, os.Getenv("CONF_PATH"))
	if confPath == "" {
		logger.Error().Msg("no event catalog configured: set -conf or CONF_PATH")
		return exitConfigError
	}

	raws, err := loadEvents(confPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load event catalog")
		return exitConfigError
	}

	r := dispatcher.New(&logger)

	cat, err := config.BuildCatalog(raws)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve event catalog")
		return exitConfigError
	}
	r.Catalog = cat

	pluginPath := firstNonEmpty(*optPluginPath, os.Getenv("PLUGIN_PATH"))
	// This reference bootstrap ships no externally discovered plugins,
	// only the built-in reference sinks/input below; the loader is
	// still constructed and Load is called with an empty plugin list,
	// so plugin.Plugin values added to that call get their parameters
	// from pluginPath.
	loader := plugin.NewLoader(r, r.Hooks, pluginPath)
	if err := loader.Load(); err != nil {
		logger.Error().Err(err).Msg("failed to load plugins")
		return exitInitFailure
	}

	// register the reference sinks the spec declares as the
	// in-scope stand-ins for real audio/haptic/LED back-ends.
	for i, decl := range []struct {
		name string
		hold time.Duration
	}{
		{"audio", 2 * time.Second},
		{"haptic", 500 * time.Millisecond},
		{"led", 3 * time.Second},
	} {
		s := refsink.New(&logger, decl.name, i+1, decl.hold)
		if err := r.RegisterSink(s); err != nil {
			logger.Error().Err(err).Str("sink", decl.name).Msg("failed to register reference sink")
			return exitInitFailure
		}
	}

	cli := refinput.New(&logger, "cli", r.PlayRequest)
	if err := r.RegisterInput(cli.Decl); err != nil {
		logger.Error().Err(err).Msg("failed to register reference input")
		return exitInitFailure
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start dispatcher")
		return exitInitFailure
	}
	defer r.Stop()
	defer loader.UnloadAll()

	if *optWatch {
		if fi, statErr := os.Stat(confPath); statErr == nil && fi.IsDir() {
			go watchCatalog(ctx, &logger, confPath, r)
		} else {
			logger.Warn().Msg("-watch requires -conf to be a directory; ignoring")
		}
	}

	if *optListenMetrics != "" {
		go serveMetrics(&logger, *optListenMetrics)
	}

	logger.Info().Msg("feedbackd started")
	<-ctx.Done()
	logger.Info().Msg("feedbackd shutting down")
	return exitOK
}

func loadEvents(path string) ([]config.RawEvent, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return config.LoadEventDir(path)
	}
	return config.LoadEventFile(path)
}

func watchCatalog(ctx context.Context, logger *zerolog.Logger, dir string, r *dispatcher.Runtime) {
	w := config.NewWatcher(dir, 250*time.Millisecond, logger)
	err := w.Run(ctx, func(raws []config.RawEvent, err error) {
		if err != nil {
			logger.Error().Err(err).Msg("event catalog reload failed; keeping previous catalog")
			return
		}
		cat, err := config.BuildCatalog(raws)
		if err != nil {
			logger.Error().Err(err).Msg("event catalog reload failed; keeping previous catalog")
			return
		}
		r.SetCatalog(cat)
		logger.Info().Msg("event catalog reloaded")
	})
	if err != nil {
		logger.Error().Err(err).Msg("catalog watcher stopped")
	}
}

func serveMetrics(logger *zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics listener stopped")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
