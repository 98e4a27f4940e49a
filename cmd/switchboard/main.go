// Command switchboard runs the presence directory and call-signaling relay
// for the voice-chat client. It never touches media; it only forwards small
// control messages between identified WebSocket connections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/lumenchat/switchboard/internal/config"
	"github.com/lumenchat/switchboard/internal/httpserver"
	"github.com/lumenchat/switchboard/internal/metrics"
	"github.com/lumenchat/switchboard/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting switchboard",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"call_ring_timeout", cfg.CallRingTimeout,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"allowed_origins", cfg.AllowedOrigins,
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	srv := httpserver.New(cfg, logger, resolveBuildInfo())

	m := metrics.New()
	sig := signaling.NewServer(cfg, logger, m)
	srv.Mux().Handle("GET /ws", sig)
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			os.Exit(1)
		}
	case s := <-quit:
		logger.Info("shutting down", "signal", s.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed, forcing close", "err", err)
			_ = srv.Close()
		}
		sig.Shutdown()
	}

	logger.Info("server exited")
}

// resolveBuildInfo prefers ldflags values and falls back to the VCS metadata
// the Go toolchain embeds.
func resolveBuildInfo() httpserver.BuildInfo {
	info := httpserver.BuildInfo{Commit: buildCommit, BuildTime: buildTime}
	if info.Commit != "" && info.BuildTime != "" {
		return info
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = setting.Value
				}
			case "vcs.time":
				if info.BuildTime == "" {
					info.BuildTime = setting.Value
				}
			}
		}
	}
	return info
}
