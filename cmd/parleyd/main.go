package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parley/internal/channelsync"
	"parley/internal/config"
	"parley/internal/daemon"
	"parley/internal/ingest"
	"parley/internal/lock"
	"parley/internal/logging"
	"parley/internal/queue"
	"parley/internal/redisconn"
	"parley/internal/store"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	st, err := store.Open(cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}

	rdb := redisconn.New(cfg)
	q := queue.New(cfg, st, rdb, logger)
	registerHandlers(q, cfg, st, rdb, logger)

	d, err := daemon.New(cfg, st, q, rdb, logger)
	if err != nil {
		logger.Fatal("create daemon", zap.Error(err))
	}

	if err := d.Start(ctx); err != nil {
		logger.Fatal("daemon start", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("parleyd shutting down")
	d.Stop()
}

func registerHandlers(q *queue.Queue, cfg *config.Config, st *store.Store, rdb *redis.Client, logger *zap.Logger) {
	locker := lock.New(rdb)

	ingestor := ingest.NewIngestor(st, logger)
	q.Register(ingest.JobKind, ingestor.Handle)

	syncer := channelsync.NewSyncer(cfg, st, locker, logger)
	q.Register(channelsync.JobKind, syncer.Handle)
}
