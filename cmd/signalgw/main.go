// Package main is the entry point for signalgw, an HTTP/WS/SSE
// gateway fronting a signal-cli JSON-RPC daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/nugget/signalgw/internal/buildinfo"
	"github.com/nugget/signalgw/internal/config"
	"github.com/nugget/signalgw/internal/connwatch"
	"github.com/nugget/signalgw/internal/daemon"
	"github.com/nugget/signalgw/internal/gateway"
	"github.com/nugget/signalgw/internal/hub"
	"github.com/nugget/signalgw/internal/httpkit"
	"github.com/nugget/signalgw/internal/metrics"
	"github.com/nugget/signalgw/internal/rpc"
	"github.com/nugget/signalgw/internal/signal"
	"github.com/nugget/signalgw/internal/webhook"
)

func main() {
	signalCli := flag.String("signal-cli", "", "host:port of an already-running signal-cli daemon (skips spawning one)")
	listen := flag.String("listen", "", "host:port to listen on (default 127.0.0.1:8080 or config file value)")
	tlsCert := flag.String("tls-cert", "", "TLS certificate path (requires -tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (requires -tls-cert)")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.Info() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return
	}

	os.Exit(run(logger, *signalCli, *listen, *tlsCert, *tlsKey, *configPath))
}

func run(logger *slog.Logger, signalCli, listen, tlsCert, tlsKey, configPath string) int {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		return 2
	}

	var cfg *config.Config
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			return 2
		}
		logger.Info("config loaded", "path", cfgPath)
	} else {
		cfg = config.Default()
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			return 2
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	// Flags override file-backed config, per the gateway's CLI contract.
	if signalCli != "" {
		cfg.Daemon.ExternalAddress = signalCli
	}
	if listen != "" {
		cfg.Listen.Address = listen
	}
	if tlsCert != "" {
		cfg.TLS.CertPath = tlsCert
	}
	if tlsKey != "" {
		cfg.TLS.KeyPath = tlsKey
	}

	logger.Info("starting signalgw", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsReg := metrics.New()

	sup := daemon.New(daemon.Config{
		BinaryName:      cfg.Daemon.BinaryName,
		ExternalAddress: cfg.Daemon.ExternalAddress,
		PortRangeStart:  cfg.Daemon.PortRangeStart,
		PortRangeEnd:    cfg.Daemon.PortRangeEnd,
		StartupTimeout:  cfg.Daemon.StartupTimeout,
		Logger:          logger,
	})

	watchMgr := connwatch.NewManager(logger)
	defer watchMgr.Stop()

	onDaemonDown := func(err error) {
		logger.Error("signal-cli daemon became unreachable", "error", err)
	}
	if err := sup.Start(ctx, watchMgr, onDaemonDown); err != nil {
		logger.Error("failed to start signal-cli daemon", "error", err)
		return 1
	}
	defer sup.Stop()
	logger.Info("signal-cli daemon ready", "address", sup.Address())

	rpcClient, err := sup.Dial(ctx)
	if err != nil {
		logger.Error("failed to connect to signal-cli daemon", "error", err)
		return 1
	}

	webhookClient := httpkit.NewClient(
		httpkit.WithTimeout(15*time.Second),
		httpkit.WithUserAgent(buildinfo.UserAgent()),
		httpkit.WithRetry(3, 500*time.Millisecond),
	)
	deliverer := webhook.New(webhookClient, metricsReg, logger)

	for _, seed := range cfg.Webhooks {
		reg := deliverer.Register(seed.URL, seed.Events)
		logger.Info("webhook registered from config", "id", reg.ID, "url", reg.URL)
	}

	var accounts *signal.Manager
	var receiveHub *hub.Hub

	accounts = signal.NewManager(rpcClient, func(env signal.Envelope) {
		receiveHub.Dispatch(env)
		deliverer.Dispatch(env)
	})

	receiveHub = hub.New(logger, func(number string) (hub.Account, bool) {
		return accounts.Account(number), true
	}, hub.WithDropCallback(func(string) {
		metricsReg.WSMessagesDropped.Inc()
	}))

	sup.Supervise(ctx, rpcClient, func(newClient *rpc.Client) {
		accounts.SetClient(newClient)
		receiveHub.Reconnected()
	})

	gwCfg := gateway.Config{
		Address:  cfg.Listen.Address,
		CertPath: cfg.TLS.CertPath,
		KeyPath:  cfg.TLS.KeyPath,
	}
	gwCfg.Address = ensureListenable(logger, gwCfg.Address)

	srv := gateway.New(gwCfg, accounts, receiveHub, deliverer, metricsReg, sup, logger)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		logger.Error("gateway server failed", "error", err)
		return 1
	}

	logger.Info("signalgw stopped")
	return 0
}

// ensureListenable tries to bind addr; if it is already in use, it
// falls back to an ephemeral port on the same host and logs the
// chosen address, per the gateway's listener contract.
func ensureListenable(logger *slog.Logger, addr string) string {
	l, err := net.Listen("tcp", addr)
	if err == nil {
		actual := l.Addr().String()
		l.Close()
		return actual
	}

	host, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		host = "127.0.0.1"
	}
	fallback, ferr := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if ferr != nil {
		logger.Warn("failed to bind fallback ephemeral port, using configured address as-is", "address", addr, "error", err)
		return addr
	}
	actual := fallback.Addr().String()
	fallback.Close()
	logger.Warn("configured listen address busy, falling back to ephemeral port", "configured", addr, "chosen", actual)
	return actual
}
