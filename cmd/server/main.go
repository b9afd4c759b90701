package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mls_chat/internal/config"
	"mls_chat/internal/metrics"
	"mls_chat/internal/repository/client"
	redisSvc "mls_chat/internal/service/redis"
	"mls_chat/internal/service/server"
	"mls_chat/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the delivery service",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a config file")
	rootCmd.Flags().String("addr", "", "listen address")
	rootCmd.Flags().String("domain", "", "domain of the users registered here")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if err := v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
		return err
	}
	if err := v.BindPFlag("server.domain", cmd.Flags().Lookup("domain")); err != nil {
		return err
	}
	cfg, err := config.Load(v, flagConfig)
	if err != nil {
		return err
	}
	log.Init(cfg.Log.Level, cfg.Log.Development)
	defer log.Sync()

	ctx := context.Background()

	mongoDBClient, err := initMongo(cfg.Mongo.URI)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.Mongo.Database)
	clientRepo := client.NewClientRepo(db)
	if err := clientRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("create client indexes: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	redis := redisSvc.NewRedis(rdb)
	if err := redis.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	backendKey, err := server.LoadOrCreateBackendKey(ctx, redis)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := server.NewHttpServer(clientRepo, redis, backendKey, server.Options{
		Domain:         cfg.Server.Domain,
		Metrics:        metrics.NewDeliveryCollector(reg),
		MetricsHandler: metrics.Handler(reg),
	})
	if err != nil {
		return err
	}
	s.Start(cfg.Server.Addr)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	return nil
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
