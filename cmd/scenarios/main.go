// Command scenarios runs the browser scenario suite against the live demo
// sites, or serves the suite as MCP tools with -mcp-addr.
//
//	scenarios -list
//	scenarios -run 'shop-*' -browser firefox -test
//	scenarios -mcp-addr :8080
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kuitang/scenario-suite/internal/artifacts"
	"github.com/kuitang/scenario-suite/internal/catalog"
	"github.com/kuitang/scenario-suite/internal/config"
	"github.com/kuitang/scenario-suite/internal/db"
	"github.com/kuitang/scenario-suite/internal/engine/pwengine"
	"github.com/kuitang/scenario-suite/internal/mcp"
	"github.com/kuitang/scenario-suite/internal/metrics"
	"github.com/kuitang/scenario-suite/internal/notify"
	"github.com/kuitang/scenario-suite/internal/obs"
	"github.com/kuitang/scenario-suite/internal/ratelimit"
	"github.com/kuitang/scenario-suite/internal/report"
	"github.com/kuitang/scenario-suite/internal/scenario"
	"github.com/kuitang/scenario-suite/internal/suite"
)

var version = "dev"

const localArtifactsBucket = "scenario-artifacts"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process exit. It returns 0 when every selected
// scenario passed, 1 when any failed and 2 on setup errors.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := config.ParseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	logger := obs.Pkg("main")

	if cfg.Trace {
		tp, err := obs.InitTracing("scenario-suite", version, stderr)
		if err != nil {
			logger.Error("tracing_init_failed", "error", err)
			return 2
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing_shutdown_failed", "error", err)
			}
		}()
	}

	scenarios, err := loadScenarios(cfg.ScenarioDir)
	if err != nil {
		logger.Error("scenario_load_failed", "error", err)
		return 2
	}
	selected, err := scenario.Filter(scenarios, flags.Run, flags.Tag)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if flags.List {
		listScenarios(stdout, selected)
		return 0
	}
	if len(selected) == 0 && flags.MCPAddr == "" {
		fmt.Fprintf(stderr, "no scenario matches -run %q -tag %q\n", flags.Run, flags.Tag)
		return 2
	}

	cfg.PrintStartupSummary(stderr)

	if flags.Install {
		if err := pwengine.Install(cfg.Browser); err != nil {
			logger.Error("playwright_install_failed", "error", err)
			return 2
		}
	}
	eng, err := pwengine.Launch(pwengine.Options{Browser: cfg.Browser, Headless: cfg.Headless, SlowMo: cfg.SlowMo})
	if err != nil {
		logger.Error("engine_launch_failed", "browser", cfg.Browser, "error", err)
		return 2
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("engine_close_failed", "error", err)
		}
	}()

	limiter := ratelimit.NewHostLimiter(cfg.RateLimit)
	defer limiter.Stop()

	sinks, err := buildSinks(ctx, cfg)
	if err != nil {
		logger.Error("sink_setup_failed", "error", err)
		return 2
	}
	defer sinks.Close()

	runner := suite.NewRunner(eng, suite.Options{
		DefaultTimeout:    cfg.DefaultTimeout,
		NavigationTimeout: cfg.NavigationTimeout,
		ScenarioTimeout:   cfg.ScenarioTimeout,
		Parallelism:       cfg.Parallelism,
		Screenshots:       true,
	}, limiter, sinks.list...)

	if flags.MCPAddr != "" {
		if err := serveMCP(ctx, flags.MCPAddr, scenarios, runner, sinks); err != nil {
			logger.Error("mcp_server_failed", "error", err)
			return 2
		}
		return 0
	}

	sum := runner.RunAll(ctx, selected)
	passed, failed := sum.Counts()
	fmt.Fprint(stdout, report.Markdown(sum))
	logger.Info("run_finished",
		"run_id", sum.RunID,
		"passed", passed,
		"failed", failed,
		"duration", sum.Duration.String(),
		"report_url", sum.ReportURL,
	)
	if !sum.OK() {
		return 1
	}
	return 0
}

// loadScenarios returns the built-in catalog plus any scenario files in dir.
// Names must stay unique across both sources.
func loadScenarios(dir string) ([]scenario.Scenario, error) {
	all := catalog.All()
	if dir != "" {
		extra, err := scenario.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		all = append(all, extra...)
	}
	if err := scenario.ValidateAll(all); err != nil {
		return nil, err
	}
	return all, nil
}

func listScenarios(w io.Writer, scenarios []scenario.Scenario) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSITE\tSTEPS\tTAGS")
	for _, sc := range scenarios {
		tags := append([]string(nil), sc.Tags...)
		sort.Strings(tags)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", sc.Name, sc.Site, len(sc.Steps), strings.Join(tags, ","))
	}
	tw.Flush()
}

// sinkSet is the ordered sink chain plus the resources behind it.
//
// Order matters: artifacts set Summary.ReportURL before the history store
// saves the run, and the history store marks flaky outcomes before the
// report, notification and metrics sinks see them.
type sinkSet struct {
	list    []suite.Sink
	history *db.Store
	metrics *metrics.Metrics
	closers []func() error
}

func (s *sinkSet) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			obs.Pkg("main").Warn("sink_close_failed", "error", err)
		}
	}
}

func buildSinks(ctx context.Context, cfg *config.Config) (*sinkSet, error) {
	set := &sinkSet{}
	fail := func(err error) (*sinkSet, error) {
		set.Close()
		return nil, err
	}

	switch {
	case cfg.NoS3:
		local, err := artifacts.NewLocal(ctx, localArtifactsBucket)
		if err != nil {
			return fail(err)
		}
		set.closers = append(set.closers, local.Close)
		set.list = append(set.list, artifacts.NewSink(local.Client, ""))
	case cfg.ArtifactsEnabled():
		client, err := artifacts.New(ctx, artifacts.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			PublicURL:       cfg.AWSPublicURL,
		})
		if err != nil {
			return fail(err)
		}
		set.list = append(set.list, artifacts.NewSink(client, ""))
	}

	if cfg.ResultsDBPath != "" {
		store, err := db.Open(cfg.ResultsDBPath, cfg.ResultsDBKey)
		if err != nil {
			return fail(err)
		}
		set.history = store
		set.closers = append(set.closers, store.Close)
		set.list = append(set.list, store)
	}

	if cfg.ReportDir != "" {
		set.list = append(set.list, report.FileSink{Dir: cfg.ReportDir})
	}

	if cfg.NotifyEnabled() {
		var sender notify.Sender
		if cfg.NoEmail {
			sender = notify.NewMockSender("")
		} else {
			sender = notify.NewResendSender(cfg.ResendAPIKey, cfg.ResendFromEmail)
		}
		set.list = append(set.list, notify.NewNotifier(sender, cfg.NotifyTo))
	}

	set.metrics = metrics.New(cfg.MetricsTextfile)
	set.list = append(set.list, set.metrics)
	return set, nil
}

// serveMCP exposes the scenario tools, Prometheus metrics and a health check
// until ctx is canceled.
func serveMCP(ctx context.Context, addr string, scenarios []scenario.Scenario, runner *suite.Runner, sinks *sinkSet) error {
	var history mcp.History
	if sinks.history != nil {
		history = sinks.history
	}
	server := mcp.NewServer(mcp.NewHandler(scenarios, runner, history), version)

	mux := http.NewServeMux()
	mountMCPRoute(mux, "/mcp", server)
	mux.Handle("GET /metrics", sinks.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		obs.Pkg("main").Info("mcp_listening", "addr", addr, "scenarios", len(scenarios))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// mountMCPRoute registers every method the Streamable HTTP transport uses.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(method+" "+path, handler)
	}
}
