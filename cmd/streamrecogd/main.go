// Command streamrecogd is the streaming recognition daemon: it wires
// the audio socket, admin HTTP API and health gRPC surface to a shared
// transcription worker pool and audio logger, then serves all three
// until asked to stop.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/echoline-labs/streamrecog/internal/adminapi"
	"github.com/echoline-labs/streamrecog/internal/audiolog"
	"github.com/echoline-labs/streamrecog/internal/config"
	"github.com/echoline-labs/streamrecog/internal/healthgrpc"
	"github.com/echoline-labs/streamrecog/internal/transcribe"
	"github.com/echoline-labs/streamrecog/internal/vad"
	"github.com/echoline-labs/streamrecog/internal/wsapi"
)

// version can be set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := pflag.StringP("config-file", "c", "", "YAML configuration file overlaying defaults and environment.")
	logLevel := pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	engineFlag := pflag.StringP("engine", "e", "auto", "VAD engine: auto, silero, stub.")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting streamrecogd",
		"version", version,
		"ws_addr", cfg.Server.WSAddr,
		"admin_addr", cfg.Server.AdminAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"engine_config", *engineFlag,
	)

	// Bind every listener before any engine or model initialization, so a
	// slow or failing model never blocks orchestration from observing an
	// open port (grounded on the pack's own adapter startup sequencing).
	wsLis, err := net.Listen("tcp", cfg.Server.WSAddr)
	if err != nil {
		logger.Error("failed to bind audio socket listener", "error", err)
		os.Exit(1)
	}
	defer wsLis.Close()

	adminLis, err := net.Listen("tcp", cfg.Server.AdminAddr)
	if err != nil {
		logger.Error("failed to bind admin listener", "error", err)
		os.Exit(1)
	}
	defer adminLis.Close()

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to bind grpc health listener", "error", err)
		os.Exit(1)
	}
	defer grpcLis.Close()

	logger.Info("listeners bound",
		"ws_addr", wsLis.Addr().String(),
		"admin_addr", adminLis.Addr().String(),
		"grpc_addr", grpcLis.Addr().String(),
	)

	healthSrv := healthgrpc.NewServer()
	grpcErrCh := make(chan error, 1)
	go func() {
		if err := healthSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			grpcErrCh <- err
		}
	}()

	engineFactory, resolvedEngine, err := resolveEngineFactory(*engineFlag, cfg, logger)
	if err != nil {
		logger.Error("cannot resolve VAD engine, refusing to start", "error", err)
		os.Exit(1)
	}
	logger.Info("VAD engine resolved", "engine", resolvedEngine)

	pool := transcribe.NewPool(transcribe.PoolConfig{
		Size:          cfg.Workers.PoolSize,
		MaxQueueDepth: cfg.Workers.MaxQueueDepth,
		JobDeadline:   cfg.Workers.JobDeadline,
	}, func() transcribe.Transcriber {
		return transcribe.NewStubTranscriber(cfg.Audio.SampleRate)
	})
	pool.Start(ctx)

	alog := audiolog.NewLogger(cfg.AudioLog)
	alog.Start(ctx)

	wsSrv := wsapi.NewServer(cfg, engineFactory, pool, alog)
	adminSrv := adminapi.NewServer(wsSrv, pool, alog)

	wsHTTP := &http.Server{Handler: wsSrv.Handler()}
	adminHTTP := &http.Server{Handler: adminSrv.Handler()}

	httpErrCh := make(chan error, 2)
	go func() {
		if err := wsHTTP.Serve(wsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()
	go func() {
		if err := adminHTTP.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()

	healthSrv.SetServing(true)
	logger.Info("streamrecogd ready to serve requests")

	select {
	case err := <-grpcErrCh:
		logger.Error("health gRPC server terminated with error", "error", err)
		os.Exit(1)
	case err := <-httpErrCh:
		logger.Error("an HTTP listener terminated with error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	logger.Info("shutdown requested, draining connections")
	shutdown(logger, healthSrv, wsSrv, wsHTTP, adminHTTP)
	pool.Wait()
	logger.Info("streamrecogd stopped")
}

func shutdown(logger *slog.Logger, healthSrv *healthgrpc.Server, wsSrv *wsapi.Server, httpServers ...*http.Server) {
	healthSrv.SetServing(false)

	// net/http's Shutdown does not wait for hijacked connections (every
	// audio socket is one): drain those explicitly first so in-flight
	// utterances get a chance to finish before the listeners close.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := wsSrv.Shutdown(drainCtx); err != nil {
		logger.Warn("audio sessions did not all drain before shutdown deadline", "error", err)
	}
	drainCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range httpServers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server did not shut down cleanly", "error", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		healthSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		logger.Warn("health gRPC graceful stop timed out, forcing stop")
		healthSrv.Stop()
	}
}

// resolveEngineFactory picks the VAD engine backend, resolving "auto" to
// whichever of silero/stub is actually usable (grounded on the pack's own
// adapter main: probe the native engine once up front, rather than per
// connection, so a bad build fails at startup instead of mid-session).
// Unlike that adapter, there is no environment-variable escape hatch that
// falls back to the stub engine after a failed native probe: a production
// deployment that asked for silero and can't get it should fail loudly,
// not silently start serving unscored audio.
func resolveEngineFactory(requested string, cfg config.Config, logger *slog.Logger) (wsapi.EngineFactory, string, error) {
	resolved := requested
	isAuto := requested == "auto"
	if isAuto {
		if vad.NativeAvailable() {
			resolved = "silero"
		} else {
			resolved = "stub"
			logger.Warn("auto-detected engine: stub (native silero not compiled in, build with -tags silero for production)")
		}
	}

	switch resolved {
	case "silero":
		if !vad.NativeAvailable() {
			return nil, "", errors.New(`engine "silero" requested but native backend not compiled in (build with -tags silero)`)
		}
		probe, err := vad.NewNativeEngine(cfg.Audio.ThresholdOn)
		if err != nil {
			return nil, "", err
		}
		probe.Close()
		return func() vad.Engine {
			eng, err := vad.NewNativeEngine(cfg.Audio.ThresholdOn)
			if err != nil {
				logger.Error("per-session engine creation failed", "error", err)
				return vad.NewStubEngine()
			}
			return eng
		}, resolved, nil
	case "stub":
		logger.Warn("using stub engine — VAD decisions are deterministic and not based on audio content")
		return func() vad.Engine { return vad.NewStubEngine() }, resolved, nil
	default:
		return nil, "", errors.New(`unknown engine: ` + resolved + ` (want auto, silero or stub)`)
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
