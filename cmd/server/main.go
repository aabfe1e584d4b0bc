// Command server runs the HEC collector gateway: it accepts HTTP event
// submissions, converts them to RFC5424 records and forwards them over
// RELP with per-channel acknowledgement ids.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"hec-relp-gateway/internal/ack"
	"hec-relp-gateway/internal/auth"
	"hec-relp-gateway/internal/config"
	"hec-relp-gateway/internal/convert"
	"hec-relp-gateway/internal/hub"
	"hec-relp-gateway/internal/middleware"
	"hec-relp-gateway/internal/relp"
	"hec-relp-gateway/internal/sender"
	"hec-relp-gateway/internal/server"
	"hec-relp-gateway/internal/store"
)

const drainTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var issueSubject string

	flagSet := pflag.NewFlagSet("hec-relp-gateway", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $CONFIG_FILE)")
	flagSet.StringVar(&issueSubject, "issue-token", "", "print a signed collector token for this subject and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	tokenCfg := auth.TokenConfig{
		Secret: cfg.TokenSecret,
		Expiry: cfg.TokenExpiry,
		Issuer: "hec-relp-gateway",
	}
	if issueSubject != "" {
		tok, err := auth.IssueToken(issueSubject, tokenCfg)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Println(tok)
		return nil
	}

	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.NewWithOptions(store.Options{
		StateFile:       cfg.StateFile,
		RetainCommitted: cfg.MaxAcksPerChannel,
		Logger:          logger.With("component", "store"),
	})
	go st.RunSweeper(ctx, cfg.SessionIdleTimeout, cfg.SessionSweepInterval)
	go st.RunSnapshots(ctx, cfg.StateSaveInterval)

	ackHub := hub.NewWithLogger(logger.With("component", "hub"))
	tracker := ack.New(st, ackHub, logger.With("component", "ack"))

	client := relp.NewClient(cfg.RELPAddress, relp.Options{
		ConnectTimeout: cfg.RELPConnectTimeout,
		AckTimeout:     cfg.RELPAckTimeout,
	})
	relpSender := sender.New(client, tracker, sender.Options{
		ReconnectInterval: cfg.RELPReconnectInterval,
		Logger:            logger.With("component", "sender", "relp", cfg.RELPAddress),
	})
	dispatcher := sender.NewDispatcher(relpSender, logger.With("component", "dispatcher"))
	dispatcher.Start(context.Background())

	converter := &convert.Converter{
		Store:     st,
		Tracker:   tracker,
		Handoff:   dispatcher,
		Formatter: convert.Formatter{Hostname: cfg.SyslogHostname, AppName: cfg.SyslogAppName},
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		go limiter.Run(ctx)
	}

	router := server.NewRouter(server.Deps{
		Converter:    converter,
		Tracker:      tracker,
		Hub:          ackHub,
		TokenConfig:  tokenCfg,
		RateLimiter:  limiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       logger.With("component", "http"),
	})

	serveErr := server.Run(ctx, cfg, router, logger)
	stop()

	shutdown(logger, dispatcher, st)
	return serveErr
}

func shutdown(logger *slog.Logger, dispatcher *sender.Dispatcher, st *store.Store) {
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		logger.Warn("shutdown: pending batches not delivered", "pending", dispatcher.Pending(), "error", err)
	}
	if err := dispatcher.Close(); err != nil {
		logger.Warn("shutdown: close sender", "error", err)
	}
	if err := st.Save(); err != nil {
		logger.Error("shutdown: save state", "error", err)
	}
	logger.Info("shutdown complete")
}
