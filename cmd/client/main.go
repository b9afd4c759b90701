package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mls_chat/internal/config"
	"mls_chat/internal/metrics"
	"mls_chat/internal/model"
	"mls_chat/internal/protocol/engine"
	"mls_chat/internal/repository/group"
	"mls_chat/internal/service/app"
	"mls_chat/internal/service/delivery"
	"mls_chat/internal/service/mls"
	redisSvc "mls_chat/internal/service/redis"
	"mls_chat/internal/utils/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "client <username>",
	Short: "Chat in end-to-end encrypted groups",
	Args:  cobra.MaximumNArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a config file")
	rootCmd.Flags().String("client-id", "", "client ID of this device")
	rootCmd.Flags().String("server", "", "delivery service URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlag("client.id", cmd.Flags().Lookup("client-id")); err != nil {
		return err
	}
	if err := v.BindPFlag("server.public_url", cmd.Flags().Lookup("server")); err != nil {
		return err
	}
	if len(args) == 1 {
		v.Set("client.user", args[0])
	}
	cfg, err := config.Load(v, flagConfig)
	if err != nil {
		return err
	}
	if cfg.Client.User == "" {
		return errors.New("a username is required")
	}
	log.Init(cfg.Log.Level, cfg.Log.Development)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoDBClient, err := initMongo(cfg.Mongo.URI)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoDBClient.Disconnect(context.Background())

	// Every client keeps its group records in its own database.
	user := model.ParseQualifiedID(cfg.Client.User, cfg.Client.Domain)
	groupRepo := group.NewGroupRepo(mongoDBClient.Database(fmt.Sprintf("%s_%s_%s", cfg.Mongo.Database, user.ID, sanitize(user.Domain))))
	if err := groupRepo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("create group indexes: %w", err)
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

	clientID := cfg.Client.ID
	if clientID == "" {
		if clientID, err = app.LoadClientID(ctx, redis, user); err != nil {
			return err
		}
	}

	deliveryClient, err := delivery.NewClient(cfg.Server.PublicURL)
	if err != nil {
		return err
	}
	self, err := deliveryClient.Register(ctx, user.ID, user.Domain, clientID)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	if err := app.SaveClientID(ctx, redis, self); err != nil {
		log.Warn("save client id failed", zap.Error(err))
	}
	log.Info("registered", zap.String("client", self.String()))

	mlsCfg, err := cfg.MLS.Coordinator(self)
	if err != nil {
		return err
	}
	eng, err := engine.New(ctx, self, redisSvc.NewEngineStore(redis, self),
		engine.WithCiphersuite(mlsCfg.Ciphersuite),
		engine.WithCommitDelayStep(cfg.MLS.CommitDelayStep))
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewClientCollector(reg)
	if cfg.Metrics.Addr != "" {
		metricsServer := metrics.NewServer(cfg.Metrics.Addr, reg)
		metricsServer.Start()
		defer metricsServer.Shutdown()
	}

	events := app.NewEventLog()
	coordinator := mls.NewCoordinator(mlsCfg, eng, deliveryClient, groupRepo, redisSvc.NewInventoryStore(redis, self),
		mls.WithEventSink(events),
		mls.WithMetrics(collector))
	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	go coordinator.Run(ctx)

	a := app.NewApp(coordinator, deliveryClient, redis, events)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		a.Stop()
	}()

	return a.Run(ctx)
}

// sanitize keeps a domain usable in a mongo database name.
func sanitize(domain string) string {
	out := []byte(domain)
	for i, b := range out {
		if b == '.' || b == '/' || b == ' ' || b == '"' || b == '$' || b == '\\' {
			out[i] = '_'
		}
	}
	return string(out)
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
