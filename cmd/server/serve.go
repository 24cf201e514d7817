package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iliyamo/parkb/internal/config"
	"github.com/iliyamo/parkb/internal/handler"
	"github.com/iliyamo/parkb/internal/metrics"
	"github.com/iliyamo/parkb/internal/middleware"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/queue"
	"github.com/iliyamo/parkb/internal/router"
	"github.com/iliyamo/parkb/internal/service"
)

type serveOptions struct {
	notify        bool
	adminUser     string
	adminPassword string
	stopTimeout   time.Duration
}

func newServeCommand() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the auto-cancel sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.notify, "notify", true, "consume parking events and write the notification log")
	flags.StringVar(&opts.adminUser, "admin-user", os.Getenv("ADMIN_USERNAME"), "manager account created on startup when missing")
	flags.StringVar(&opts.adminPassword, "admin-password", os.Getenv("ADMIN_PASSWORD"), "password for --admin-user")
	flags.DurationVar(&opts.stopTimeout, "stop-timeout", 5*time.Second, "graceful shutdown budget")
	return cmd
}

func serve(ctx context.Context, opts serveOptions) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	if opts.adminUser != "" {
		if _, err := a.addUser(ctx, opts.adminUser, opts.adminPassword, model.RoleManager, true); err != nil {
			return err
		}
		a.log.Infof("manager account %q ready", opts.adminUser)
	}

	rdb, err := config.NewRedisClient(ctx)
	switch {
	case errors.Is(err, config.ErrRedisDisabled):
		a.log.Infof("redis disabled; rate limiting and caching off")
	case err != nil:
		a.log.Warnf("redis unavailable (%v); rate limiting and caching off", err)
	default:
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb)

	var svc *parking.Service
	svcOpts := []parking.Option{parking.WithPolicy(a.policy()), parking.WithObserver(cache)}

	reg := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec := metrics.New(reg, func() float64 {
			n, err := svc.CheckAvailability(context.Background())
			if err != nil {
				return 0
			}
			return float64(n)
		})
		svcOpts = append(svcOpts, parking.WithObserver(rec))
	}

	var pub *service.AMQPPublisher
	if cfg.AMQPURL != "" {
		pub = service.NewAMQPPublisher(cfg.AMQPURL, cfg.Parking.EventsQueue, cfg.Parking.Location)
		defer pub.Close()
		svcOpts = append(svcOpts, parking.WithPublisher(pub))
	} else {
		a.log.Infof("event publishing disabled")
	}

	svc = parking.NewService(a.store, a.clock, svcOpts...)
	if err := svc.Init(ctx); err != nil {
		return err
	}

	sched := parking.NewScheduler(svc, a.clock, nil)
	sched.Start(ctx)

	if cfg.AMQPURL != "" && opts.notify {
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.Parking.EventsQueue, cfg.Parking.NotifyLogDir)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Errorf("notification consumer: %v", err)
			}
		}()
	}

	e := newEcho(cfg, svc, a, rdb, cache, reg)
	addr := ":" + cfg.Port
	a.log.Infof("listening on %s (env=%s, spots=%d)", addr, cfg.Env, cfg.Parking.TotalSpots)

	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.log.Infof("shutting down")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), opts.stopTimeout)
	defer cancel()
	if err := e.Shutdown(stopCtx); err != nil {
		a.log.Warnf("http shutdown: %v", err)
	}
	if err := sched.Stop(stopCtx); err != nil {
		a.log.Warnf("scheduler stop: %v", err)
	}
	return nil
}

func newEcho(cfg config.Config, svc *parking.Service, a *app, rdb *redis.Client, cache *middleware.ResponseCache, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(a.log.Level())
	e.Use(middleware.OptionalJWT(cfg.JWTSecret), middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))

	deps := router.Deps{
		Auth:      handler.NewAuthHandler(cfg, a.store),
		Parking:   handler.NewParkingHandler(svc),
		JWTSecret: cfg.JWTSecret,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.Handler(reg)
	}
	if rdb != nil {
		deps.StatusCache = cache.Middleware()
	}
	router.Register(e, deps)
	return e
}
