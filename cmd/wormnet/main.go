// wormnet - game server for versioned LieroX clients.
//
// wormnet accepts clients over UDP, negotiates a wire revision per client
// from its announced version, relays chat and shots between them, and
// exposes them to operators over a REST API and a console.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/api"
	"github.com/wormnet-project/wormnet/internal/channel"
	"github.com/wormnet-project/wormnet/internal/cli"
	"github.com/wormnet-project/wormnet/internal/config"
	"github.com/wormnet-project/wormnet/internal/db"
	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/health"
	"github.com/wormnet-project/wormnet/internal/localclient"
	"github.com/wormnet-project/wormnet/internal/network"
	"github.com/wormnet-project/wormnet/internal/server"
	"github.com/wormnet-project/wormnet/internal/telemetry"
	"github.com/wormnet-project/wormnet/internal/util"
	"github.com/wormnet-project/wormnet/internal/version"
)

const (
	AppName    = "wormnet"
	AppVersion = "1.0.0"
	Banner     = `
                                            _
 __      _____  _ __ _ __ ___  _ __   ___| |_
 \ \ /\ / / _ \| '__| '_ ' _ \| '_ \ / _ \ __|
  \ V  V / (_) | |  | | | | | | | | |  __/ |_
   \_/\_/ \___/|_|  |_| |_| |_|_| |_|\___|\__|  v%s
`

	inboxSize = 1024
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	bootLog, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting wormnet")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	serverData := cfg.GetServerData()
	appData := cfg.GetApplicationData()

	logFile, err := util.InitLogger(util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		bootLog.Close()
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	var store *db.Store
	if appData.Database.Path != "" {
		store, err = db.NewStore(appData.Database.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open session journal")
		}
		if n, err := store.CloseOpenSessions(ctx, time.Now(), events.ReasonShutdown); err != nil {
			log.Warn().Err(err).Msg("failed to close sessions left open by the last run")
		} else if n > 0 {
			log.Info().Int64("sessions", n).Msg("closed sessions left open by the last run")
		}
		store.Subscribe(eventBus)
	}

	if !config.IsPortAvailable(serverData.GamePort) {
		log.Warn().Int("port", serverData.GamePort).Msg("game port is in use, will retry binding")
	}

	inbox := network.NewInbox(inboxSize)
	listenAddr := net.JoinHostPort(serverData.ListenAddress, strconv.Itoa(serverData.GamePort))
	udp := network.NewUDPListener(listenAddr, inbox)
	if err := startWithRetry(ctx, "UDP listener", udp.Listen, 5); err != nil {
		log.Fatal().Err(err).Msg("failed to bind game port")
	}

	opts := []server.Option{server.WithEventBus(eventBus)}
	if store != nil {
		opts = append(opts, server.WithMuteList(store))
	}
	gameCfg := serverConfig(serverData)
	game := server.New(gameCfg, udp, inbox.C(), opts...)

	var loop *network.Loopback
	if serverData.HostLocal {
		loop = network.NewLoopback(inbox)
		udp.AttachLoopback(loop)
	}

	var sessions api.SessionStore
	var pruner health.SessionPruner
	var lister cli.SessionLister
	if store != nil {
		sessions, pruner, lister = store, store, store
	}

	healthMgr := health.NewManager(health.Config{
		Name:              serverData.Name,
		ReaperInterval:    appData.Timers.Reaper(),
		IdleTimeout:       serverData.IdleTimeout(),
		HeartbeatInterval: appData.Timers.Heartbeat(),
		PruneInterval:     time.Hour,
		SessionRetention:  time.Duration(appData.Timers.SessionRetention) * 24 * time.Hour,
	}, game, eventBus, pruner)

	mqttHandler, err := telemetry.NewMQTTHandler(appData.MQTT, serverData.Name, eventBus)
	if err != nil && !errors.Is(err, telemetry.ErrDisabled) {
		log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
	}

	apiServer := api.NewServer(cfg, game, sessions)
	console := cli.NewCLI(cfg, eventBus, game, lister, os.Stdin, os.Stdout)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		if e.Source == "cli" {
			select {
			case shutdownCh <- struct{}{}:
			default:
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", listenAddr).Msg("starting UDP listener")
		if err := udp.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("udp listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("max_connections", serverData.MaxConnections).Msg("starting game server")
		if err := game.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("game server: %w", err)
		}
	}()

	if serverData.HostLocal {
		err := game.Exec(ctx, func(s *server.Server) {
			conn, err := s.AcceptLocal()
			if err == nil {
				err = s.Negotiate(conn, version.Beta9)
			}
			if err != nil {
				log.Error().Err(err).Msg("failed to accept the local client")
				return
			}
			local := localclient.New(loop, version.Beta9, gameCfg.Channel)
			wg.Add(1)
			go func() {
				defer wg.Done()
				local.Run(ctx, gameCfg.TickInterval)
			}()
		})
		if err != nil {
			log.Error().Err(err).Msg("game server not running")
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", serverData.APIPort).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// The console blocks on stdin, so it is not waited for.
	go console.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from the console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// The game server disconnects every client as it stops.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session journal")
		}
	}

	log.Info().Msg("wormnet stopped")
	if logFile != nil {
		logFile.Close()
	}
}

func serverConfig(d config.ServerData) server.Config {
	return server.Config{
		Name:             d.Name,
		MaxConnections:   d.MaxConnections,
		TickInterval:     d.TickInterval(),
		PingInterval:     d.PingInterval(),
		ChallengeTimeout: d.ChallengeTimeout(),
		Channel: channel.Config{
			ReliableTimeout:  time.Duration(d.Channel.ReliableTimeoutSec) * time.Second,
			MinRTO:           time.Duration(d.Channel.MinRTOMs) * time.Millisecond,
			MaxRTO:           time.Duration(d.Channel.MaxRTOMs) * time.Millisecond,
			KeepAlive:        time.Duration(d.Channel.KeepAliveMs) * time.Millisecond,
			CompressionLevel: d.Channel.CompressionLevel,
		},
	}
}

// startWithRetry retries startFn on bind errors with a fixed 3-second
// interval. It returns the last error once the retries are used up.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
