package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/globe-tracker/internal/health"
	"github.com/signalsfoundry/globe-tracker/internal/logging"
	"github.com/signalsfoundry/globe-tracker/internal/observability"
	"github.com/signalsfoundry/globe-tracker/internal/reconcile"
	"github.com/signalsfoundry/globe-tracker/internal/scene"
	"github.com/signalsfoundry/globe-tracker/internal/selection"
	"github.com/signalsfoundry/globe-tracker/internal/source"
	"github.com/signalsfoundry/globe-tracker/internal/weather"
	"github.com/signalsfoundry/globe-tracker/kb"
	"github.com/signalsfoundry/globe-tracker/timectrl"
)

// Config holds the process-level settings parsed from flags.
type Config struct {
	Source       string
	Bounds       string
	TLEFile      string
	ReplayFile   string
	WeatherFile  string
	WeatherKey   string
	Interval     time.Duration
	FetchTimeout time.Duration
	WeatherEvery time.Duration
	Once         bool
	Hidden       bool

	// TraceService and TraceSampleRatio override the GLOBE_TRACING_* values
	// when set.
	TraceService     string
	TraceSampleRatio *float64

	// Registerer receives the metrics; nil uses the global registry.
	Registerer prometheus.Registerer
}

func main() {
	srcName := flag.String("source", "fr24", "snapshot source: fr24, tle or file")
	bounds := flag.String("bounds", "", "fr24 bounding box as north,south,west,east")
	tleFile := flag.String("tle-file", "", "path to a TLE catalogue for -source=tle")
	replayFile := flag.String("replay-file", "", "path to a JSON snapshot for -source=file")
	weatherFile := flag.String("weather-file", "", "path to a JSON array of weather stations to display")
	interval := flag.Duration("interval", 2*time.Second, "delay between reconciliation cycles")
	fetchTimeout := flag.Duration("fetch-timeout", 10*time.Second, "HTTP timeout for upstream fetches")
	weatherEvery := flag.Duration("weather-interval", 10*time.Minute, "weather refresh period when WEATHER_API_KEY is set")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for /metrics and /entities; empty disables it")
	grpcAddr := flag.String("grpc-addr", ":50051", "TCP address of the gRPC health service")
	once := flag.Bool("once", false, "run a single cycle, log the result and exit")
	hidden := flag.Bool("hidden", false, "create entities hidden")
	traceService := flag.String("trace-service", "", "tracing service name; overrides GLOBE_TRACING_SERVICE_NAME")
	traceRatio := flag.Float64("trace-sample-ratio", -1, "trace sampling ratio in [0,1]; overrides GLOBE_TRACING_SAMPLE_RATIO")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := Config{
		Source:       *srcName,
		Bounds:       *bounds,
		TLEFile:      *tleFile,
		ReplayFile:   *replayFile,
		WeatherFile:  *weatherFile,
		WeatherKey:   os.Getenv("WEATHER_API_KEY"),
		Interval:     *interval,
		FetchTimeout: *fetchTimeout,
		WeatherEvery: *weatherEvery,
		Once:         *once,
		Hidden:       *hidden,

		TraceService: *traceService,
	}
	if *traceRatio >= 0 {
		cfg.TraceSampleRatio = traceRatio
	}

	var grpcLis, httpLis net.Listener
	if !cfg.Once {
		var err error
		grpcLis, err = net.Listen("tcp", *grpcAddr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", *grpcAddr), logging.Err(err))
			os.Exit(1)
		}
		if *metricsAddr != "" {
			httpLis, err = net.Listen("tcp", *metricsAddr)
			if err != nil {
				log.Error(ctx, "failed to listen for HTTP", logging.String("addr", *metricsAddr), logging.Err(err))
				os.Exit(1)
			}
		}
	}

	if err := run(ctx, cfg, log, grpcLis, httpLis); err != nil {
		log.Error(ctx, "globe-tracker exited", logging.Err(err))
		os.Exit(1)
	}
}

// tracingConfig layers the tracing flags over the environment and tags spans
// with the configured source.
func (c Config) tracingConfig() observability.TracingConfig {
	tc := observability.TracingConfigFromEnv()
	if c.TraceService != "" {
		tc.ServiceName = c.TraceService
	}
	if c.TraceSampleRatio != nil {
		tc.SampleRatio = *c.TraceSampleRatio
	}
	tc.Sources = []string{c.Source}
	return tc
}

// tracker is the wired object graph shared by run and its tests.
type tracker struct {
	collector *observability.Collector
	checker   *health.Checker
	sel       *selection.Selection
	rec       *reconcile.Reconciler
	weather   *weather.Registry

	unsubscribe func()
}

// newTracker builds the reconciler and its collaborators without starting
// anything. Close releases what it registered.
func newTracker(ctx context.Context, cfg Config, log logging.Logger) (*tracker, error) {
	collector, err := observability.NewCollector(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	checker := health.NewChecker(health.DefaultFailureThreshold, log)
	checker.Track(cfg.Source)

	src, err := buildSource(cfg, log)
	if err != nil {
		return nil, err
	}

	sc := scene.New(log)
	sel := selection.New()
	store := kb.NewKnowledgeBase()
	// Selected entities that disappear from the feed leave the selection.
	unsubscribe := store.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventEntityRemoved {
			sel.Remove(ev.Entity)
		}
	})

	dir := source.NewFR24Directory(source.DirectoryConfig{Timeout: cfg.FetchTimeout}, log, collector)
	rec, err := reconcile.New(
		reconcile.Config{Name: cfg.Source, Interval: cfg.Interval, StartHidden: cfg.Hidden},
		src, sc,
		reconcile.WithLogger(log),
		reconcile.WithMetrics(collector, checker),
		reconcile.WithKnowledgeBase(store),
		reconcile.WithEntityOptions(kb.WithPainter(sc), kb.WithDirectory(dir)),
	)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("init reconciler: %w", err)
	}

	reg := weather.NewRegistry(sc, log, weather.WithSelection(sel))
	if cfg.WeatherFile != "" {
		stations, err := weather.LoadStations(cfg.WeatherFile)
		if err != nil {
			rec.Shutdown()
			unsubscribe()
			return nil, err
		}
		for _, st := range stations {
			reg.Add(st)
		}
		log.Info(ctx, "loaded weather stations", logging.Int("count", len(stations)))
	}

	return &tracker{
		collector:   collector,
		checker:     checker,
		sel:         sel,
		rec:         rec,
		weather:     reg,
		unsubscribe: unsubscribe,
	}, nil
}

func (t *tracker) Close() {
	t.rec.Shutdown()
	t.unsubscribe()
}

// run wires the tracker and blocks until ctx is done. In once mode it runs a
// single cycle and returns its error.
func run(ctx context.Context, cfg Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.tracingConfig(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	t, err := newTracker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer t.Close()
	rec, sel, reg, collector, checker := t.rec, t.sel, t.weather, t.collector, t.checker

	if cfg.Once {
		if err := rec.RunOnce(ctx); err != nil {
			return err
		}
		log.Info(ctx, "single cycle complete",
			logging.String("source", cfg.Source),
			logging.Int("tracked", rec.Len()),
			logging.Int("weather_points", len(reg.Points())),
		)
		return nil
	}

	if grpcLis == nil {
		return errors.New("grpc listener is required unless running once")
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			health.RequestIDUnaryServerInterceptor(log),
			health.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	checker.Register(server)

	var httpSrv *http.Server
	if httpLis != nil {
		httpSrv = &http.Server{
			Handler:           newMux(rec, sel, reg, collector, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "starting gRPC health server", logging.String("addr", grpcLis.Addr().String()))
		if err := server.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	if httpSrv != nil {
		g.Go(func() error {
			log.Info(gctx, "serving metrics and entities", logging.String("addr", httpLis.Addr().String()))
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
	}

	var refresh *timectrl.Task
	if cfg.WeatherKey != "" && len(reg.Points()) > 0 {
		api := weather.NewWeatherAPI(weather.WeatherAPIConfig{Key: cfg.WeatherKey, Timeout: cfg.FetchTimeout}, log)
		refresh = timectrl.NewTask(timectrl.RealClock{}, func() {
			if err := reg.Refresh(gctx, api); err != nil {
				log.Warn(gctx, "weather refresh incomplete", logging.Err(err))
			}
			if gctx.Err() == nil {
				refresh.Arm(cfg.WeatherEvery)
			}
		})
		refresh.Arm(0)
	}

	rec.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down globe-tracker")
		if refresh != nil {
			refresh.Stop()
		}
		rec.Shutdown()
		checker.Shutdown()
		stopGRPC(server, 5*time.Second)

		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// stopGRPC drains in-flight RPCs, forcing a stop once timeout elapses so that
// open health watches cannot hold shutdown.
func stopGRPC(server *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
	}
}

func buildSource(cfg Config, log logging.Logger) (reconcile.Source, error) {
	switch cfg.Source {
	case "fr24":
		return source.NewFR24(source.FR24Config{Bounds: cfg.Bounds, Timeout: cfg.FetchTimeout}, log), nil
	case "tle":
		if cfg.TLEFile == "" {
			return nil, errors.New("-tle-file is required for -source=tle")
		}
		tles, err := source.LoadTLEFile(cfg.TLEFile)
		if err != nil {
			return nil, err
		}
		sats, err := source.NewSatellites(tles, timectrl.RealClock{}, log)
		if err != nil {
			return nil, err
		}
		return sats, nil
	case "file":
		if cfg.ReplayFile == "" {
			return nil, errors.New("-replay-file is required for -source=file")
		}
		return source.File{Path: cfg.ReplayFile}, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want fr24, tle or file)", cfg.Source)
	}
}
