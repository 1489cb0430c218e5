package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wainbox/server/internal/badge"
	"wainbox/server/internal/config"
	"wainbox/server/internal/database"
	"wainbox/server/internal/handlers"
	"wainbox/server/internal/metrics"
	"wainbox/server/internal/realtime"
	"wainbox/server/internal/routes"
	"wainbox/server/internal/sender"
	"wainbox/server/internal/session"
	"wainbox/server/internal/store"
	ws "wainbox/server/internal/websocket"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	pool, err := database.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := store.New(pool)
	snd := sender.New(cfg.Sender.URL, cfg.Sender.Token, cfg.Sender.Timeout)

	cache, closeCache, err := badgeCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()
	badges := badge.NewService(st, cache, cfg.Inbox.BadgeCacheTTL, log)

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	// Server-wide feed for the badge and broadcast watchers
	feed, err := realtime.NewClient(realtime.Options{
		URL:         cfg.RealtimeURL(),
		APIKey:      cfg.Supabase.AnonKey,
		Token:       cfg.Supabase.ServiceKey,
		Logger:      log.Named("realtime"),
		OnReconnect: m.Reconnects.Inc,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("realtime_stopped", zap.Error(err))
		}
	}()
	go badge.NewWatcher(feed, badges, cfg.Inbox.BroadcastDebounce, hub.Publish, log.Named("badge")).Run(ctx)

	h := &handlers.Handlers{
		Store:            st,
		Badges:           badges,
		Sender:           snd,
		Hub:              hub,
		Log:              log,
		PageSize:         cfg.Inbox.PageSize,
		ContactsPageSize: cfg.Inbox.ContactsPageSize,
		Window:           cfg.Inbox.ConversationWindow,
		Views: &handlers.ViewFactory{
			RealtimeURL: cfg.RealtimeURL(),
			APIKey:      cfg.Supabase.AnonKey,
			JWTSecret:   cfg.Supabase.JWTSecret,
			Metrics:     m,
			Log:         log.Named("view"),
			Deps: session.Deps{
				Messages: st,
				Contacts: st,
				Marker:   st,
				Sender:   snd,
				PageSize: cfg.Inbox.PageSize,
				Window:   cfg.Inbox.ConversationWindow,
			},
		},
	}

	app := fiber.New(fiber.Config{
		AppName:   "wainbox API v1.0",
		BodyLimit: handlers.MaxDocumentSize + 1024*1024,
	})
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowCredentials: true,
	}))
	routes.SetupRoutes(app, h, cfg.Supabase.JWTSecret, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	errc := make(chan error, 1)
	go func() {
		log.Info("server_starting", zap.String("addr", cfg.Server.Addr()))
		errc <- app.Listen(cfg.Server.Addr())
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func badgeCache(cfg *config.Config) (badge.Cache, func(), error) {
	if cfg.RedisAddr == "" {
		return badge.NewMemoryCache(nil), func() {}, nil
	}
	rc, err := badge.NewRedisCache(cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { rc.Close() }, nil
}
