// Command ustore-flight-server runs the Arrow Flight RPC frontend over the
// in-memory reference engine, mirroring flight_server.cpp's run_server/main.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/menuet/ustore/internal/config"
	"github.com/menuet/ustore/internal/flightserver"
	"github.com/menuet/ustore/internal/memengine"
	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
)

// sessionPoolCapacity bounds the number of concurrently held transactions
// and scratch arenas; flight_server.cpp derives its own pool sizing from
// engine config rather than a flag, so this mirrors that fixed-size default.
const sessionPoolCapacity = 256

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("ustore-flight-server", flag.ContinueOnError)
	flags, err := config.ParseFlags(fs, args, os.Stderr)
	if err == flag.ErrHelp {
		return nil
	}
	if err != nil {
		return err
	}

	if flags.Quiet {
		slog.SetLogLoggerLevel(slog.LevelError)
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if _, statErr := os.Stat(flags.ConfigPath); os.IsNotExist(statErr) {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	eng := memengine.New()
	engConfig, err := json.Marshal(cfg.Engine)
	if err != nil {
		return fmt.Errorf("marshalling engine config: %w", err)
	}
	handle, err := eng.Open(engConfig)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close(handle)

	otelShutdown, err := setupObservability(flags.Quiet)
	if err != nil {
		return fmt.Errorf("setting up observability: %w", err)
	}
	defer otelShutdown(context.Background())

	pool := session.New(sessionPoolCapacity, session.DefaultIdleTimeout)
	hook := observability.NewHook(observability.DefaultConfig())
	srv := flightserver.New(eng, handle, pool, hook)

	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", flags.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", flags.Port, err)
	}
	if !flags.Quiet {
		fmt.Printf("Listening on port: %d\n", flags.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		srv.Shutdown()
		return <-serveErr
	}
}

// setupObservability installs a real OpenTelemetry SDK tracer/meter provider
// as the process-wide default, so internal/observability's hook (which
// resolves unset providers from the global SDK) emits real spans and
// metrics instead of no-op ones. In quiet mode the stdout exporters still
// run but write to io.Discard, keeping instrumentation cost identical.
func setupObservability(quiet bool) (func(context.Context) error, error) {
	w := io.Writer(os.Stdout)
	if quiet {
		w = io.Discard
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return meterProvider.Shutdown(ctx)
	}, nil
}
