package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bluescreen10/sugary/account"
	"github.com/bluescreen10/sugary/catalog"
	"github.com/bluescreen10/sugary/config"
	"github.com/bluescreen10/sugary/gormstore"
	"github.com/bluescreen10/sugary/livereload"
	"github.com/bluescreen10/sugary/logctx"
	"github.com/bluescreen10/sugary/memstore"
	"github.com/bluescreen10/sugary/metrics"
	"github.com/bluescreen10/sugary/mysqlstore"
	"github.com/bluescreen10/sugary/redisstore"
	"github.com/bluescreen10/sugary/refresh"
	"github.com/bluescreen10/sugary/session"
	"github.com/bluescreen10/sugary/web"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting sugary", "env", cfg.Env, "session_backend", cfg.Session.Backend)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()
	ctx := logctx.Into(rootCtx, log)

	backend, err := openBackend(ctx, cfg.Session)
	if err != nil {
		log.Error("session_backend_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if cerr := backend.close(); cerr != nil {
			log.Warn("session_backend_close_failed", slog.String("err", cerr.Error()))
		}
	}()

	if sw, ok := backend.Backend.(sweeper); ok {
		go sw.Sweep(ctx, cfg.Session.SweepInterval)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	accounts := account.New(cfg.Backend.BaseURL,
		account.WithTimeout(cfg.Backend.Timeout),
		account.WithUserAgent(cfg.Backend.UserAgent),
	)

	pager := catalog.NewClient(cfg.Backend.BaseURL,
		catalog.WithTimeout(cfg.Backend.Timeout),
		catalog.WithUserAgent(cfg.Backend.UserAgent),
	)

	fetcher := catalog.NewFetcher(pager, refresh.New(accounts, refresh.WithMetrics(m)), catalog.WithMetrics(m))

	sessions := session.NewManager(backend.Backend,
		session.WithName(cfg.Session.CookieName),
		session.WithSecure(cfg.Session.Secure),
		session.WithLifetime(cfg.Session.Lifetime),
	)

	var templates fs.FS
	if cfg.Dev.TemplatesDir != "" {
		templates = os.DirFS(cfg.Dev.TemplatesDir)
	}

	srv := web.New(web.Options{
		Accounts:             accounts,
		Sessions:             sessions,
		Fetcher:              fetcher,
		Metrics:              m,
		Logger:               log,
		PageSize:             cfg.Catalog.PageSize,
		CDNBaseURL:           cfg.UI.CDNBaseURL,
		LoginRedirectDelay:   cfg.UI.LoginRedirectDelay,
		ExpiredRedirectDelay: cfg.UI.ExpiredRedirectDelay,
		ViewIdleTimeout:      cfg.UI.ViewIdleTimeout,
		Templates:            templates,
		Ready:                backend.ready,
	})

	go srv.Views().Sweep(ctx, time.Minute)

	if cfg.Dev.LiveReload {
		lr := livereload.New(livereload.WithReloader(srv.Renderer()))
		srv.Use(lr)
		go lr.Watch(ctx, cfg.Dev.TemplatesDir, time.Second)
		log.Info("live_reload_enabled", slog.String("dir", cfg.Dev.TemplatesDir))
	}

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	log.Info("service_stopped")
}

type sweeper interface {
	Sweep(ctx context.Context, interval time.Duration)
}

// durableBackend is the configured session backend with its health check
// and cleanup.
type durableBackend struct {
	session.Backend
	ready func(ctx context.Context) error
	close func() error
}

func openBackend(ctx context.Context, cfg config.SessionConfig) (*durableBackend, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.New(rdb)
		if err := store.Ping(ctx); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return &durableBackend{Backend: store, ready: store.Ping, close: rdb.Close}, nil

	case config.BackendSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		store, err := gormstore.New(db)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return &durableBackend{Backend: store, ready: sqlDB.PingContext, close: sqlDB.Close}, nil

	case config.BackendMySQL:
		mcfg, err := mysql.ParseDSN(cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		mcfg.ParseTime = true
		connector, err := mysql.NewConnector(mcfg)
		if err != nil {
			return nil, err
		}
		db := sql.OpenDB(connector)
		store, err := mysqlstore.New(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &durableBackend{Backend: store, ready: db.PingContext, close: db.Close}, nil

	default:
		return &durableBackend{Backend: memstore.New(), close: noop}, nil
	}
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
