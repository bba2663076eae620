// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clawline/clawline/agent"
	"github.com/clawline/clawline/clawline"
	"github.com/clawline/clawline/gateway"
	"github.com/clawline/clawline/helm"
	"github.com/clawline/clawline/lib/clock"
	"github.com/clawline/clawline/lib/config"
	"github.com/clawline/clawline/lib/process"
	"github.com/clawline/clawline/lib/ratelimit"
	"github.com/clawline/clawline/lib/secret"
	"github.com/clawline/clawline/lib/service"
	"github.com/clawline/clawline/lib/taskqueue"
	"github.com/clawline/clawline/lib/version"
	"github.com/clawline/clawline/mediastore"
	"github.com/clawline/clawline/session"
	"github.com/clawline/clawline/transfer"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		stateDir    string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to clawline.yaml (default: $CLAWLINE_CONFIG)")
	flag.StringVar(&listen, "listen", "", "listen address override")
	flag.StringVar(&stateDir, "state-dir", "", "state directory override")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("clawlined")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	settings, err := config.LoadChannelSettings(cfg.ChannelConfig)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	clk := clock.Real()

	daemon, err := buildDaemon(cfg, settings, clk, logger)
	if err != nil {
		return err
	}
	defer daemon.close()

	return daemon.serve(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// daemon owns every long-lived component; serve runs them and close
// releases what outlives serve (key material).
type daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    clock.Clock
	queue    *taskqueue.Queue
	outbound *gateway.Outbound
	channel  *clawline.Server
	helm     *helm.Channel
	admin    *service.SocketServer
	http     *service.HTTPServer
	keys     *mediastore.KeySet
}

func buildDaemon(cfg *config.Config, settings config.ChannelSettings, clk clock.Clock, logger *slog.Logger) (*daemon, error) {
	paths := session.Paths{StateDir: cfg.StateDir}
	store := session.NewStore(paths.StorePath())
	recorder := session.NewRecorder(store, paths, clk, logger)

	queue := taskqueue.New(func(queueKey string, err error) {
		logger.Error("conversation task failed", "queue_key", queueKey, "error", err)
	})
	outbound := gateway.NewOutbound()

	keys, err := loadMediaKeys(cfg.Media.MasterKeyFile)
	if err != nil {
		return nil, err
	}
	media, err := mediastore.NewStore(cfg.Media.Dir, keys)
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("opening media store: %w", err)
	}

	runner := agent.NewExecRunner(cfg.Agent.Command, logger)

	answerer, err := transfer.NewAnswerer(transfer.Config{
		Media:      media,
		ICEServers: iceServers(cfg.ICE.STUNURLs),
		Logger:     logger,
	})
	if err != nil {
		keys.Close()
		return nil, err
	}

	registry := clawline.NewRegistry(registryPath(cfg))
	streams, err := clawline.NewStreams(streamsPath(cfg), clk)
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("loading stream registry: %w", err)
	}
	pairings := clawline.NewPairings(settings.PairingTTL, clk)

	// Helm authenticates against the device registry through the
	// channel server, which is constructed after the dispatcher that
	// publishes to Helm. The closure over channel resolves the cycle;
	// it is never called before serve starts the channels.
	var channel *clawline.Server
	var helmChannel *helm.Channel
	dispatcherConfig := gateway.DispatcherConfig{
		Queue:             queue,
		Outbound:          outbound,
		Recorder:          recorder,
		Runner:            runner,
		Clock:             clk,
		Logger:            logger,
		AgentID:           cfg.Agent.ID,
		AttachmentTimeout: cfg.Delivery.AttachmentTimeout.Std(),
	}
	if cfg.Helm.Enabled {
		helmChannel, err = helm.New(helm.Config{
			Authenticate: func(ctx context.Context, credential string) (string, error) {
				identity, err := channel.AuthenticateBearer(ctx, credential)
				if err != nil {
					return "", err
				}
				return identity.UserID, nil
			},
			Logger:         logger,
			AllowedOrigins: settings.AllowedOrigins,
		})
		if err != nil {
			keys.Close()
			return nil, err
		}
		dispatcherConfig.Publisher = helmChannel
	}

	dispatcher, err := gateway.NewDispatcher(dispatcherConfig)
	if err != nil {
		keys.Close()
		return nil, err
	}

	channel, err = clawline.NewServer(clawline.ServerConfig{
		Registry:       registry,
		Streams:        streams,
		Pairings:       pairings,
		Dispatcher:     dispatcher,
		Outbound:       outbound,
		Media:          media,
		Transfers:      answerer,
		PairingLimiter: ratelimit.NewLimiter(cfg.RateLimits.PairingLimit, cfg.RateLimits.PairingWindow.Std(), clk),
		AuthLimiter:    ratelimit.NewLimiter(cfg.RateLimits.AuthLimit, cfg.RateLimits.AuthWindow.Std(), clk),
		Clock:          clk,
		Logger:         logger,
		AllowedOrigins: settings.AllowedOrigins,
		ServerName:     settings.ServerName,
	})
	if err != nil {
		keys.Close()
		return nil, err
	}

	return assembleDaemon(cfg, clk, logger, queue, outbound, channel, helmChannel, keys)
}

func assembleDaemon(cfg *config.Config, clk clock.Clock, logger *slog.Logger, queue *taskqueue.Queue, outbound *gateway.Outbound, channel *clawline.Server, helmChannel *helm.Channel, keys *mediastore.KeySet) (*daemon, error) {
	mux := http.NewServeMux()
	mux.Handle("/v1/", channel.Handler())
	if helmChannel != nil {
		mux.Handle("/helm/", helmChannel.Handler())
	}

	admin := service.NewSocketServer(cfg.AdminSocket, logger)
	channel.RegisterAdminActions(admin)

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Listen,
		Handler: mux,
		Logger:  logger,
	})

	return &daemon{
		cfg:      cfg,
		logger:   logger,
		clock:    clk,
		queue:    queue,
		outbound: outbound,
		channel:  channel,
		helm:     helmChannel,
		admin:    admin,
		http:     httpServer,
		keys:     keys,
	}, nil
}

// serve starts the channels and blocks until ctx is cancelled, then
// shuts down in reverse order: stop accepting, drain conversations,
// unbind outbound.
func (d *daemon) serve(ctx context.Context) error {
	if err := d.channel.Start(ctx); err != nil {
		return err
	}
	if d.helm != nil {
		if err := d.helm.Start(ctx); err != nil {
			return err
		}
	}

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- d.http.Serve(ctx)
	}()
	adminDone := make(chan error, 1)
	go func() {
		adminDone <- d.admin.Serve(ctx)
	}()

	<-d.http.Ready()
	d.logger.Info("clawlined running",
		"listen", d.cfg.Listen,
		"admin_socket", d.cfg.AdminSocket,
		"helm", d.helm != nil,
	)

	<-ctx.Done()
	d.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if d.helm != nil {
		if err := d.helm.Stop(stopCtx); err != nil {
			d.logger.Error("helm stop", "error", err)
		}
	}
	if err := d.channel.Stop(stopCtx); err != nil {
		d.logger.Error("channel stop", "error", err)
	}

	// Let in-flight conversations finish before the process exits.
	if err := d.queue.DrainContext(stopCtx); err != nil {
		d.logger.Error("conversation drain", "error", err)
	}

	if err := <-httpDone; err != nil {
		d.logger.Error("http server", "error", err)
	}
	if err := <-adminDone; err != nil {
		d.logger.Error("admin socket", "error", err)
	}
	return nil
}

func (d *daemon) close() {
	if d.keys != nil {
		d.keys.Close()
	}
}

// loadMediaKeys reads the media master key. The file may hold the raw
// 32 bytes or their 64-char hex encoding; a missing path generates an
// ephemeral key, which keeps a dev daemon runnable but makes stored
// media unreadable after restart.
func loadMediaKeys(path string) (*mediastore.KeySet, error) {
	if path == "" {
		raw := make([]byte, mediastore.KeySize)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generating ephemeral media key: %w", err)
		}
		buffer, err := secret.NewFromBytes(raw)
		if err != nil {
			return nil, err
		}
		return mediastore.NewKeySet(buffer)
	}

	return mediastore.KeySetFromFile(path)
}

func iceServers(stunURLs []string) []webrtc.ICEServer {
	if len(stunURLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: stunURLs}}
}

func registryPath(cfg *config.Config) string {
	return cfg.StateDir + "/devices.json"
}

func streamsPath(cfg *config.Config) string {
	return cfg.StateDir + "/streams.json"
}
