package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsrelay/opsrelay/common/environment"
	"github.com/opsrelay/opsrelay/common/version"
	"github.com/opsrelay/opsrelay/internal/relay/api"
	"github.com/opsrelay/opsrelay/internal/relay/aws"
	"github.com/opsrelay/opsrelay/internal/relay/capability"
	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/intent"
	"github.com/opsrelay/opsrelay/internal/relay/orchestrator"
	"github.com/opsrelay/opsrelay/internal/relay/store"
)

func main() {
	log := newLogger()
	log.Info("opsrelay starting", "version", version.Info())

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	clients, err := aws.NewClients(ctx, aws.ClientConfig{
		Region:    cfg.AWS.Region,
		Endpoint:  cfg.AWS.Endpoint,
		AccessKey: cfg.AWS.AccessKey,
		SecretKey: cfg.AWS.SecretKey,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build AWS clients: %v\n", err)
		os.Exit(1)
	}
	reader := aws.NewReader(clients)

	gateway := discovery.NewGateway(cfg.Gateway.URL, discovery.StaticToken(cfg.Gateway.Token))

	var provider intent.Provider
	if cfg.Intent.APIKey != "" && cfg.Intent.BaseURL != "" {
		provider = intent.NewHTTPProvider(intent.Config{
			APIKey:  cfg.Intent.APIKey,
			BaseURL: cfg.Intent.BaseURL,
			Model:   cfg.Intent.Model,
			Timeout: cfg.Intent.Timeout,
		})
	} else {
		log.Warn("no intent provider configured, using keyword classification only")
	}

	engine := &orchestrator.Engine{
		Log:      log,
		Resolver: intent.NewResolver(provider),
		Searcher: gateway,
		Router: capability.NewRouter(
			&capability.Troubleshooting{
				Log:     log,
				Reader:  reader,
				Invoker: gateway,
				Planner: &capability.RulePlanner{Reader: reader},
				Logs:    aws.NewErrorTail(clients),
			},
			&capability.Execution{Log: log, Reader: reader, Invoker: gateway},
			&capability.Validation{Log: log, Reader: reader},
			&capability.Documentation{},
		),
		Reader:      reader,
		Sessions:    orchestrator.NewSessions(),
		Recorder:    st,
		TurnTimeout: cfg.TurnTimeout,
	}

	handler := api.NewHandler(log, engine, st, cfg.CORSOrigins, cfg.TurnTimeout)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-shutdownCtx.Done()
	log.Info("shutting down")

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxTimeout); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch environment.StringOr("OPSRELAY_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}
