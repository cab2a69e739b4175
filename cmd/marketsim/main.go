package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zappabad/marketsim/internal/logs"
	"github.com/zappabad/marketsim/internal/logs/console"
	"github.com/zappabad/marketsim/internal/logs/metrics"
	"github.com/zappabad/marketsim/internal/logs/redisstream"
	"github.com/zappabad/marketsim/internal/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "marketsim:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadFromEnv()
	if err != nil {
		return err
	}
	flag.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "simulation config file (YAML or JSON)")
	flag.StringVar(&cfg.Seed, "seed", cfg.Seed, "root seed, overrides the config file")
	flag.BoolVar(&cfg.Print, "print", cfg.Print, "print market steps to stdout")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	simCfg, err := runner.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return err
	}

	opts := runner.Options{Logger: logger}
	if seed, ok, _ := cfg.seed(); ok {
		opts.Seed = &seed
	}
	if cfg.console(simCfg) {
		opts.Sinks = append(opts.Sinks, logs.NewBuffered(console.New(os.Stdout, console.DefaultConfig())))
	}
	if cfg.MetricsFile != "" {
		opts.Sinks = append(opts.Sinks, logs.NewBuffered(metrics.New(prometheus.NewRegistry(), cfg.MetricsFile)))
		logger.Info("metrics textfile enabled", zap.String("path", cfg.MetricsFile))
	}
	if cfg.RedisURL != "" {
		client, err := newRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		pub, err := redisstream.New(client, redisstream.Config{
			Stream: cfg.RedisStream,
			MaxLen: cfg.RedisMaxLen,
			Steps:  cfg.RedisSteps,
		}, logger.Named("redisstream"))
		if err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, logs.NewBuffered(pub))
		logger.Info("redis stream enabled", zap.String("stream", cfg.RedisStream))
	}

	res, err := runner.New(simCfg, opts).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("# INITIALIZATION TIME %v\n", res.InitTime)
	fmt.Printf("# EXECUTION TIME %v\n", res.ExecTime)
	return nil
}

func newRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}
