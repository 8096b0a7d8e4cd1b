// Command parley is a voice-first client for real-time speech models: it
// captures the microphone, streams it to the model over a persistent
// session, and plays the synthesized reply with barge-in support.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/internal/health"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/internal/supervisor"
	"github.com/parleyvoice/parley/internal/tools"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/audio/capture"
	"github.com/parleyvoice/parley/pkg/audio/playback"
	"github.com/parleyvoice/parley/pkg/credential"
	"github.com/parleyvoice/parley/pkg/session"
	"github.com/parleyvoice/parley/pkg/session/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Configuration (with hot reload) ───────────────────────────────────────
	logLevel := &slog.LevelVar{}

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.SessionChanged {
			slog.Info("session settings changed; they take effect on the next connection")
		}
		if d.ReconnectChanged || d.HeartbeatChanged {
			slog.Info("connection tuning changed; restart to apply")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"model", cfg.Session.Model,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "parley"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Credentials ───────────────────────────────────────────────────────────
	var creds credential.Provider
	if cfg.Credentials.TokenURL != "" {
		creds = &credential.HTTPProvider{Endpoint: cfg.Credentials.TokenURL}
	} else {
		creds = &credential.Static{Token: cfg.Credentials.StaticToken}
	}

	// ── Playback ──────────────────────────────────────────────────────────────
	device, err := playback.NewDevice(cfg.Audio.OutputRate)
	if err != nil {
		slog.Error("failed to create playback device", "err", err)
		return 1
	}
	defer device.Close()

	metrics := observe.DefaultMetrics()
	scheduler := playback.NewScheduler(device, playback.Config{
		OnScheduled: func(lead time.Duration) {
			metrics.RecordFrameScheduled(context.Background(), lead.Seconds())
		},
	})
	defer scheduler.Close()

	// ── Capture ───────────────────────────────────────────────────────────────
	mic := capture.New(capture.Config{
		TargetRate:   cfg.Audio.InputRate,
		FrameSamples: cfg.Audio.FrameSamples,
	})

	// ── Tools ─────────────────────────────────────────────────────────────────
	toolHost := tools.New()
	defer toolHost.Close()
	for _, srv := range cfg.Tools {
		err := toolHost.RegisterServer(ctx, tools.ServerConfig{
			Name:      srv.Name,
			Transport: tools.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		})
		if err != nil {
			slog.Error("failed to register tool server", "server", srv.Name, "err", err)
			return 1
		}
		slog.Info("tool server registered", "server", srv.Name, "transport", srv.Transport)
	}

	// ── Session wiring ────────────────────────────────────────────────────────
	var dialerOpts []gemini.Option
	if cfg.Session.BaseURL != "" {
		dialerOpts = append(dialerOpts, gemini.WithBaseURL(cfg.Session.BaseURL))
	}
	dialer := gemini.NewDialer(dialerOpts...)

	sup, err := supervisor.New(supervisor.Config{
		Dialer:      dialer,
		Credentials: creds,
		Player:      scheduler,
		Capture:     mic,
		Session: session.Config{
			Model:        cfg.Session.Model,
			Voice:        cfg.Session.Voice,
			Instructions: cfg.Session.Instructions,
			Tools:        toolHost.Definitions(),
			InboundRate:  cfg.Audio.OutputRate,
			OutboundRate: cfg.Audio.InputRate,
		},
		ToolHandler:       toolHost.Call,
		BaseDelay:         cfg.Reconnect.BaseDelay,
		MaxAttempts:       cfg.Reconnect.MaxAttempts,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatTimeout:  cfg.Heartbeat.Timeout,
		TriggerModelFirst: cfg.Session.TriggerModelFirst == nil || *cfg.Session.TriggerModelFirst,
		OnStateChange: func(st supervisor.State) {
			slog.Info("connection state", "state", st)
		},
		OnTranscript: printTranscript,
	})
	if err != nil {
		slog.Error("failed to create supervisor", "err", err)
		return 1
	}
	defer sup.Close()

	// ── Metrics and health endpoints ──────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		supState := func() string { return sup.State().String() }
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(supState, health.SessionCheck(supState, supervisor.StateConnected.String())).Register(mux)
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	if err := sup.Connect(ctx); err != nil {
		slog.Error("initial connect failed", "err", err)
		return 1
	}

	if err := mic.Start(ctx); err != nil {
		slog.Error("failed to start microphone", "err", err)
		return 1
	}

	// Pump captured frames into the session.
	go func() {
		for frame := range mic.Frames() {
			sup.SendAudio(audio.EncodePCM16(frame))
		}
	}()
	go drainVolume(mic.Volume())

	// Optional text side-channel from stdin.
	go readTextInput(ctx, sup)

	slog.Info("conversation ready — speak, or type a message; Ctrl+C to quit")

	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	sup.Disconnect()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// printTranscript writes finalized transcript fragments to stdout as a
// running conversation log.
func printTranscript(tr session.Transcript) {
	if !tr.Final || tr.Text == "" {
		return
	}
	fmt.Printf("%s: %s\n", tr.Direction, tr.Text)
}

// drainVolume consumes the capture level meter. The terminal UI only needs
// it for debugging; keeping the channel drained stops the capture loop from
// throttling.
func drainVolume(volume <-chan float64) {
	for range volume {
	}
}

// readTextInput forwards stdin lines as text turns.
func readTextInput(ctx context.Context, sup *supervisor.Supervisor) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := sup.SendText(text); err != nil {
			slog.Warn("text send failed", "err", err)
		}
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
