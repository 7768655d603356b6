package app

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/searchktools/mini-server/config"
	"github.com/searchktools/mini-server/core"
	"github.com/searchktools/mini-server/core/middleware"
	"github.com/searchktools/mini-server/core/observability"
)

// App is the application instance: the engine together with its config,
// logger and tracing, started and stopped as one.
type App struct {
	app *fx.App
}

// New creates an application. The routing function is invoked once all
// components exist; it can request any provided type, at minimum
// *core.Engine to register routes:
//
//	app.New(func(e *core.Engine) {
//	    e.GET("/", hello)
//	}).Run()
func New(routing any, opts ...fx.Option) *App {
	return &App{app: fx.New(FxOptions(routing, opts...)...)}
}

// FxOptions returns the dependency graph New builds, for use with fxtest.
func FxOptions(routing any, opts ...fx.Option) []fx.Option {
	base := []fx.Option{
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(config.New),
		fx.Provide(NewLogger),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewPropagator),
		fx.Provide(observability.NewMonitor),
		fx.Provide(NewEngine),
		fx.Invoke(useDefaultMiddleware),
		fx.Invoke(routing),
		fx.Invoke(logStatsHook),
		fx.Invoke(startEngineHook),
	}
	return append(base, opts...)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Start starts the application and stops it again once ctx is done.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}

// NewLogger creates a zap logger at the configured level: JSON in
// production, console output otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// NewTracerProvider creates the tracer provider selected by the trace
// exporter setting. Shutdown is tied to the fx lifecycle.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	if cfg.TraceExporter != "stdout" {
		return noop.NewTracerProvider(), nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, errors.Wrap(err, "create stdout exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		)),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp, nil
}

// NewPropagator returns the W3C trace context and baggage propagator.
func NewPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// NewEngine creates the engine from configuration.
func NewEngine(cfg *config.Config, logger *zap.Logger) *core.Engine {
	return core.NewEngine(
		core.WithLogger(core.NewZapLogger(logger)),
		core.WithReadBufferSize(cfg.ReadBufferSize),
		core.WithReadTimeout(cfg.ReadTimeout),
		core.WithWriteTimeout(cfg.WriteTimeout),
	)
}

type middlewareParams struct {
	fx.In

	Engine     *core.Engine
	Logger     *zap.Logger
	Monitor    *observability.Monitor
	TracerProv trace.TracerProvider
	Propagator propagation.TextMapPropagator
}

// useDefaultMiddleware installs the middleware every request runs through
// ahead of the application's own. Recovery comes last so that the 500 it
// writes for a panic is what tracing, metrics and the access log see.
func useDefaultMiddleware(p middlewareParams) {
	p.Engine.Use(
		middleware.RequestID(),
		middleware.Tracing(p.TracerProv, p.Propagator),
		middleware.Metrics(p.Monitor),
		middleware.Logger(p.Logger.Named("access")),
		middleware.Recovery(p.Logger),
	)
}

// startEngineHook binds the listener on start, failing startup when the
// address cannot be bound, and closes it on stop.
func startEngineHook(lc fx.Lifecycle, engine *core.Engine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := engine.Listen(cfg.Addr())
			if err != nil {
				return err
			}

			go func() {
				if err := engine.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
					logger.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping server")
			return engine.Shutdown()
		},
	})
}

// logStatsHook logs what the monitor and the read buffer pool collected. It
// is appended before startEngineHook so it runs once the listener is closed.
func logStatsHook(lc fx.Lifecycle, engine *core.Engine, monitor *observability.Monitor, logger *zap.Logger) {
	logger = logger.Named("stats")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			requests, errs, total := monitor.Totals()
			logger.Info("request totals",
				zap.Uint64("requests", requests),
				zap.Uint64("errors", errs),
				zap.Duration("duration", total))

			for _, s := range monitor.Snapshot() {
				logger.Info("route stats",
					zap.String("route", s.Route),
					zap.Uint64("count", s.Count),
					zap.Uint64("errors", s.Errors),
					zap.Duration("avg", s.Avg),
					zap.Duration("min", s.Min),
					zap.Duration("max", s.Max))
			}

			for _, b := range monitor.Bottlenecks() {
				logger.Warn("bottleneck",
					zap.String("type", b.Type),
					zap.String("route", b.Location),
					zap.Int("severity", b.Severity),
					zap.String("details", b.Details))
			}

			pool := engine.PoolStats()
			logger.Info("read buffer pool",
				zap.Uint64("gets", pool.Gets),
				zap.Uint64("puts", pool.Puts),
				zap.Uint64("misses", pool.Misses),
				zap.Float64("hit_rate", pool.HitRate))
			return nil
		},
	})
}
