package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/christopherjohns/chatmatch/internal/chat"
	"github.com/christopherjohns/chatmatch/internal/config"
	"github.com/christopherjohns/chatmatch/internal/metrics"
	"github.com/christopherjohns/chatmatch/internal/ratelimit"
	"github.com/christopherjohns/chatmatch/internal/room"
	"github.com/christopherjohns/chatmatch/internal/server"
	"github.com/christopherjohns/chatmatch/internal/translate"
	"github.com/christopherjohns/chatmatch/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHATMATCH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	g, ctx := errgroup.WithContext(ctx)

	limiter, err := newLimiter(ctx, g, cfg, logger)
	if err != nil {
		return err
	}

	var translator translate.Translator = translate.Unavailable{}
	if cfg.Translate.Endpoint != "" {
		translator = translate.NewClient(cfg.Translate.Endpoint, cfg.Translate.APIKey, cfg.Translate.Timeout)
		logger.Info("translation enabled", zap.String("endpoint", cfg.Translate.Endpoint))
	}

	conns := ws.NewConnManager(
		ws.WithMaxConns(cfg.MaxConns),
		ws.WithIdleTimeout(cfg.IdleTimeout),
		ws.WithLogger(logger.Named("conns")),
		ws.WithMetrics(m),
	)
	hub := ws.NewHub(conns, logger.Named("hub"))
	engine := chat.NewEngine(room.NewManager(), hub, logger.Named("engine"),
		chat.WithQueueSize(cfg.QueueSize),
		chat.WithMetrics(m),
	)

	wsOpts := []ws.HandlerOption{
		ws.WithOriginPatterns(cfg.OriginPatterns()...),
		ws.WithHandlerMetrics(m),
	}
	if limiter != nil {
		wsOpts = append(wsOpts, ws.WithLimiter(limiter))
	}
	if cfg.Translate.Endpoint != "" {
		wsOpts = append(wsOpts, ws.WithTranslator(translator))
	}

	srv := server.New(cfg.ListenAddr, engine, logger.Named("http"),
		server.WithWebSocket(ws.NewHandler(hub, engine, logger.Named("ws"), wsOpts...)),
		server.WithTranslate(translate.NewHandler(translator, logger.Named("translate"), m)),
		server.WithMetrics(reg),
		server.WithConnManager(conns),
		server.WithClientOrigin(cfg.ClientOrigin),
	)

	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// newLimiter picks the shared Redis limiter when Redis is configured and
// the in-memory one otherwise. It returns nil when rate limiting is off.
func newLimiter(ctx context.Context, g *errgroup.Group, cfg config.Config, logger *zap.Logger) (ratelimit.Limiter, error) {
	if cfg.ConnRate.Max == 0 {
		return nil, nil
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		g.Go(func() error {
			<-ctx.Done()
			return rdb.Close()
		})
		return ratelimit.NewRedisLimiter(rdb, cfg.ConnRate.Max, cfg.ConnRate.Window, logger.Named("ratelimit")), nil
	}

	l := ratelimit.NewIPLimiter(cfg.ConnRate.Max, cfg.ConnRate.Window)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.ConnRate.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				l.Sweep()
			}
		}
	})
	return l, nil
}

func newLogger(c config.Log) (*zap.Logger, error) {
	zc, err := loggerConfig(c)
	if err != nil {
		return nil, err
	}
	return zc.Build()
}

func loggerConfig(c config.Log) (zap.Config, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if strings.EqualFold(c.Format, "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc, nil
}
