// Command vfsrtd runs the virtual filesystem runtime as a standalone
// daemon: it boots the Lifecycle Controller, mounts the HTTP/WebSocket
// edge onto a fiber app, and serves until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"

	vfsrt "github.com/tonk-labs/vfsrt"
	"github.com/tonk-labs/vfsrt/engine/memengine"
	"github.com/tonk-labs/vfsrt/health"
	"github.com/tonk-labs/vfsrt/internal/logging"
	"github.com/tonk-labs/vfsrt/resolver"
	"github.com/tonk-labs/vfsrt/store"
	"github.com/tonk-labs/vfsrt/store/redis"
	"github.com/tonk-labs/vfsrt/transport"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "vfsrtd.yaml", "path to the daemon's YAML config file")
	flag.Parse()

	log := logging.New("vfsrtd")

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	backing, pubsub, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("build storage: %v", err)
	}

	rtCfg := vfsrt.Config{
		EngineFactory:     memengine.NewFactory(),
		Storage:           backing,
		PubSub:            pubsub,
		RegistrationScope: cfg.RegistrationScope,
		DevProxy: resolver.DevProxy{
			Enabled: cfg.DevProxy.Enabled,
			BaseURL: cfg.DevProxy.BaseURL,
		},
		Lifecycle: vfsrt.Lifecycle{
			ActivateTimeout: cfg.Lifecycle.ActivateTimeout,
			ProbeAttempts:   cfg.Lifecycle.ProbeAttempts,
			ProbeInterval:   cfg.Lifecycle.ProbeInterval,
		},
		Health: vfsrt.Health{
			ProbeInterval:   cfg.Health.ProbeInterval,
			MaxAttempts:     cfg.Health.MaxAttempts,
			BackoffBase:     cfg.Health.BackoffBase,
			BackoffCap:      cfg.Health.BackoffCap,
			ContinuousRetry: cfg.Health.ContinuousRetry,
		},
	}
	if cfg.Relay.ClientID != "" {
		rtCfg.RelayAuth = &health.RelayCredentials{
			ClientID:     cfg.Relay.ClientID,
			ClientSecret: cfg.Relay.ClientSecret,
			TokenURL:     cfg.Relay.TokenURL,
			Scopes:       cfg.Relay.Scopes,
		}
	}

	rt := vfsrt.New(rtCfg)

	app := fiber.New(fiber.Config{
		AppName:      "vfsrtd",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	rt.Mount(app, transport.HTTPConfig{
		RegistrationScope: cfg.RegistrationScope,
		DevProxy: resolver.DevProxy{
			Enabled: cfg.DevProxy.Enabled,
			BaseURL: cfg.DevProxy.BaseURL,
		},
	}, transport.DefaultCompressionConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := rt.Start(ctx)
	if err != nil {
		log.Fatalf("start runtime: %v", err)
	}
	log.Printf("activated: autoInitialized=%v needsBundle=%v", env.AutoInitialized, env.NeedsBundle)

	mirror := startMirror(cfg.MirrorDir, rt, log)
	if mirror != nil {
		defer mirror.Stop()
	}

	go func() {
		log.Printf("vfsrtd listening on %s", cfg.Addr)
		if err := app.Listen(cfg.Addr); err != nil {
			log.Errorf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	rt.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// startMirror wires engine/memengine's FSWatcher into the active engine
// when MirrorDir is configured and the engine turns out to be memengine's
// in-memory implementation, so editing files on disk under dir shows up
// as writeFile/fileChanged events without any client round-trip.
func startMirror(dir string, rt *vfsrt.Runtime, log *logging.Logger) *memengine.FSWatcher {
	if dir == "" {
		return nil
	}
	state, _ := rt.Controller.Snapshot()
	eng, ok := state.Engine.(*memengine.Engine)
	if !ok {
		log.Warnf("mirrorDir set but the active engine does not support it, skipping")
		return nil
	}
	fw, err := memengine.NewFSWatcher(dir, "/", eng)
	if err != nil {
		log.Errorf("mirror dir %s: %v", dir, err)
		return nil
	}
	fw.Start()
	log.Printf("mirroring %s into the vfs", dir)
	return fw
}

// buildStorage picks the State Cache's backing store: Redis when
// configured via REDIS_URL (store/redis, for multi-instance deployments
// sharing one cache), otherwise a disk-backed store rooted at CacheDir so
// a single-instance daemon survives restarts. When Redis is in play, it
// also returns a store/redis.PubSub sharing the same client, so the Hub
// fans broadcasts out across every replica pointed at that Redis instance
// instead of only the process that produced them.
func buildStorage(cfg fileConfig) (store.Storage, store.PubSub, error) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		s, err := store.NewDiskStorage(cfg.CacheDir)
		return s, nil, err
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := goredis.NewClient(opts)
	return redis.NewStore(client), redis.NewPubSub(client), nil
}
