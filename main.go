package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duet/internal/api"
	"duet/internal/auth"
	"duet/internal/commands"
	"duet/internal/config"
	"duet/internal/heartbeat"
	"duet/internal/http"
	"duet/internal/notify"
	"duet/internal/presence"
	"duet/internal/registry"
	"duet/internal/router"
	"duet/internal/session"
	"duet/internal/storage"
	"duet/internal/storage/postgres"
	"duet/internal/ws"

	"golang.org/x/sync/errgroup"
)

// backend is everything the server needs from a store. Both the bbolt and
// the postgres stores implement it.
type backend interface {
	auth.UserStore
	router.MessageStore
	presence.ContactLister
	presence.LastSeenRecorder
	api.Store
	notify.SubscriptionStore
	io.Closer
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return storage.NewBboltStorage(cfg.DBFile)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newNotifier returns nil when no offline channel is configured.
func newNotifier(cfg *config.Config, store notify.SubscriptionStore) (notify.Notifier, func(), error) {
	var (
		notifiers notify.Multi
		closers   []func()
	)

	if cfg.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, n)
		closers = append(closers, func() { _ = n.Close() })
		slog.Info("offline notifications over nats enabled", "url", cfg.NATSURL)
	}

	if cfg.VAPIDPublicKey != "" {
		notifiers = append(notifiers, notify.NewWebPushNotifier(notify.WebPushConfig{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, store))
		slog.Info("web push notifications enabled")
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	switch len(notifiers) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return notifiers[0], closeAll, nil
	default:
		return notifiers, closeAll, nil
	}
}

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load(addUser != "")
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	slog.SetDefault(newLogger(cfg))

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig, store)
	if err != nil {
		return err
	}

	var mirror presence.Mirror
	if cfg.RedisAddr != "" {
		redisMirror, err := presence.NewRedisMirror(ctx, presence.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.HeartbeatTimeout,
		})
		if err != nil {
			return err
		}
		defer func() { _ = redisMirror.Close() }()
		mirror = redisMirror
		slog.Info("presence mirror enabled", "addr", cfg.RedisAddr)
	}

	notifier, closeNotifier, err := newNotifier(cfg, store)
	if err != nil {
		return err
	}
	defer closeNotifier()

	supervisor, err := heartbeat.NewSupervisor(heartbeat.Config{
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.HeartbeatTimeout,
	})
	if err != nil {
		return err
	}

	reg := registry.New()
	tracker := presence.NewTracker(reg, store, store, mirror)
	rt := router.New(router.Config{MaxTextLength: cfg.MaxTextLength}, store, store, reg, notifier)
	hub := ws.NewHub(reg, rt, tracker, supervisor, session.Config{
		Buffer:      cfg.SendBuffer,
		SendTimeout: cfg.SendTimeout,
	})

	wsServer := ws.NewServer(auth.NewAuthenticator(authService), hub, ws.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		PongWait:       cfg.HeartbeatTimeout,
		Connection: ws.ConnectionConfig{
			RatePerMinute: cfg.RateLimitPerMinute,
			RateBurst:     cfg.RateLimitBurst,
		},
	})

	apiServer := http.NewAPIServer(api.New(authService, store, rt, reg), wsServer.HandleConnections, http.APIServerConfig{
		Addr:      cfg.APIAddr,
		StaticDir: cfg.StaticDir,
	})
	adminServer := http.NewAdminServer(api.NewAdminHandler(authService, hub), cfg.AdminAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	// Evict silent connections
	g.Go(func() error {
		return supervisor.Run(gCtx)
	})

	// Presence outlives the servers so offline transitions from the shutdown
	// still reach last seen and the mirror.
	presenceCtx, stopPresence := context.WithCancel(context.Background())
	defer stopPresence()
	g.Go(func() error {
		return tracker.Run(presenceCtx)
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		// Hijacked websocket connections are not tracked by http.Server.
		hub.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		stopPresence()
		return nil
	})

	return g.Wait()
}

func main() {
	addUser := flag.String("add-user", "", "Username to create on a running server (prints a generated password)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
