package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"

	"resource-pool/factory"
	"resource-pool/pool"
	"resource-pool/pool/domain"
	"resource-pool/pool/infra"
)

type benchConfig struct {
	Workers  int           `toml:"workers"`
	Duration time.Duration `toml:"duration"`
	HoldTime time.Duration `toml:"hold_time"`

	Pool struct {
		MaxTotal                int           `toml:"max_total"`
		MaxIdle                 int           `toml:"max_idle"`
		MinIdle                 int           `toml:"min_idle"`
		MaxWait                 time.Duration `toml:"max_wait"`
		BlockWhenExhausted      bool          `toml:"block_when_exhausted"`
		LIFO                    bool          `toml:"lifo"`
		Fair                    bool          `toml:"fair"`
		TestOnBorrow            bool          `toml:"test_on_borrow"`
		TimeBetweenEvictionRuns time.Duration `toml:"time_between_eviction_runs"`
		MinEvictableIdleTime    time.Duration `toml:"min_evictable_idle_time"`
	} `toml:"pool"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`

	Stats struct {
		RedisAddr string        `toml:"redis_addr"`
		Prefix    string        `toml:"prefix"`
		TTL       time.Duration `toml:"ttl"`
	} `toml:"stats"`
}

func defaultBenchConfig() benchConfig {
	var cfg benchConfig
	cfg.Workers = 16
	cfg.Duration = 10 * time.Second
	cfg.HoldTime = 2 * time.Millisecond
	cfg.Pool.MaxTotal = 8
	cfg.Pool.MaxIdle = 8
	cfg.Pool.MaxWait = -1
	cfg.Pool.BlockWhenExhausted = true
	cfg.Pool.LIFO = true
	cfg.Pool.TimeBetweenEvictionRuns = time.Second
	cfg.Pool.MinEvictableIdleTime = 30 * time.Second
	return cfg
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := readConfig(*configPath)
	if err != nil {
		log.Error("config error", "err", err)
		os.Exit(1)
	}

	poolCfg := domain.DefaultConfig()
	poolCfg.MaxTotal = cfg.Pool.MaxTotal
	poolCfg.MaxIdle = cfg.Pool.MaxIdle
	poolCfg.MinIdle = cfg.Pool.MinIdle
	poolCfg.MaxWait = cfg.Pool.MaxWait
	poolCfg.BlockWhenExhausted = cfg.Pool.BlockWhenExhausted
	poolCfg.LIFO = cfg.Pool.LIFO
	poolCfg.Fair = cfg.Pool.Fair
	poolCfg.TestOnBorrow = cfg.Pool.TestOnBorrow
	poolCfg.TimeBetweenEvictionRuns = cfg.Pool.TimeBetweenEvictionRuns
	poolCfg.MinEvictableIdleTime = cfg.Pool.MinEvictableIdleTime
	poolCfg.Logger = log

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []pool.Option[any]{pool.WithConfig[any](poolCfg)}
	if cfg.Stats.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Stats.RedisAddr})
		defer func() { _ = rdb.Close() }()
		var sinkOpts []infra.RedisStatsOption
		if cfg.Stats.Prefix != "" {
			sinkOpts = append(sinkOpts, infra.WithStatsPrefix(cfg.Stats.Prefix))
		}
		if cfg.Stats.TTL > 0 {
			sinkOpts = append(sinkOpts, infra.WithStatsTTL(cfg.Stats.TTL))
		}
		opts = append(opts, pool.WithStatsSink[any](infra.NewRedisStats(rdb, sinkOpts...)))
	}

	p, err := pool.New[any](makeFactory(ctx, cfg, log), opts...)
	if err != nil {
		log.Error("pool error", "err", err)
		os.Exit(1)
	}
	defer func() { _ = p.Close() }()

	log.Info("poolbench starting",
		"workers", cfg.Workers,
		"duration", cfg.Duration,
		"max_total", cfg.Pool.MaxTotal,
		"lifo", cfg.Pool.LIFO,
		"redis", cfg.Redis.Addr != "")

	runCtx, stop := context.WithTimeout(ctx, cfg.Duration)
	defer stop()

	var ok, failed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for runCtx.Err() == nil {
				h, err := p.Borrow(runCtx)
				if err != nil {
					if runCtx.Err() == nil {
						failed.Add(1)
					}
					continue
				}
				time.Sleep(cfg.HoldTime)
				if err := p.Return(context.Background(), h); err != nil {
					failed.Add(1)
					continue
				}
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	s := p.Stats()
	log.Info("poolbench finished",
		"cycles_ok", ok.Load(),
		"cycles_failed", failed.Load(),
		"created", s.Created,
		"destroyed", s.Destroyed,
		"destroyed_by_evictor", s.DestroyedByEvictor,
		"mean_wait", s.MeanWait,
		"max_wait", s.MaxBorrowWait,
		"mean_active", s.MeanActive)
}

// makeFactory pools dedicated redis connections when an address is
// configured, otherwise a synthetic in-memory resource with a small creation
// delay.
func makeFactory(ctx context.Context, cfg benchConfig, log *slog.Logger) domain.Factory[any] {
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Error("redis ping error", "err", err)
			os.Exit(1)
		}
		return anyFactory[*redis.Conn]{inner: factory.NewRedis(rdb, factory.WithDB(cfg.Redis.DB))}
	}

	var seq atomic.Int64
	return domain.FactoryFuncs[any]{
		MakeFunc: func(context.Context) (any, error) {
			time.Sleep(time.Duration(1+rand.Intn(3)) * time.Millisecond)
			return fmt.Sprintf("res-%d", seq.Add(1)), nil
		},
	}
}

// anyFactory erases a typed factory for the bench pool, which mixes resource
// kinds behind one config.
type anyFactory[T any] struct {
	inner domain.Factory[T]
}

func (f anyFactory[T]) Make(ctx context.Context) (any, error) {
	return f.inner.Make(ctx)
}

func (f anyFactory[T]) Destroy(ctx context.Context, obj any) error {
	v, ok := obj.(T)
	if !ok {
		return errors.New("poolbench: unexpected resource type")
	}
	return f.inner.Destroy(ctx, v)
}

func (f anyFactory[T]) Validate(ctx context.Context, obj any) bool {
	v, ok := obj.(T)
	return ok && f.inner.Validate(ctx, v)
}

func (f anyFactory[T]) Activate(ctx context.Context, obj any) error {
	v, ok := obj.(T)
	if !ok {
		return errors.New("poolbench: unexpected resource type")
	}
	return f.inner.Activate(ctx, v)
}

func (f anyFactory[T]) Passivate(ctx context.Context, obj any) error {
	v, ok := obj.(T)
	if !ok {
		return errors.New("poolbench: unexpected resource type")
	}
	return f.inner.Passivate(ctx, v)
}

func readConfig(path string) (benchConfig, error) {
	cfg := defaultBenchConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
