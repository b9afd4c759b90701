package config

import (
	"fmt"
	"strings"
	"time"

	"mls_chat/internal/model"
	"mls_chat/internal/service/mls"

	"github.com/spf13/viper"
)

const EnvPrefix = "MLSCHAT"

type (
	Config struct {
		Server  ServerConfig  `mapstructure:"server"`
		Client  ClientConfig  `mapstructure:"client"`
		Redis   RedisConfig   `mapstructure:"redis"`
		Mongo   MongoConfig   `mapstructure:"mongo"`
		Log     LogConfig     `mapstructure:"log"`
		MLS     MLSConfig     `mapstructure:"mls"`
		Metrics MetricsConfig `mapstructure:"metrics"`
	}

	ServerConfig struct {
		Addr      string `mapstructure:"addr"`
		PublicURL string `mapstructure:"public_url"`
		Domain    string `mapstructure:"domain"`
	}

	// ClientConfig identifies the local client. An empty ID is assigned by
	// the delivery service on registration.
	ClientConfig struct {
		User   string `mapstructure:"user"`
		ID     string `mapstructure:"id"`
		Domain string `mapstructure:"domain"`
	}

	RedisConfig struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	MongoConfig struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	}

	LogConfig struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	}

	MLSConfig struct {
		Ciphersuite         string        `mapstructure:"ciphersuite"`
		KeyPackageTarget    int           `mapstructure:"key_package_target"`
		KeyPackageRecheck   time.Duration `mapstructure:"key_package_recheck"`
		KeyLifetimeDays     int           `mapstructure:"key_lifetime_days"`
		CommitWorkers       int           `mapstructure:"commit_workers"`
		MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
		CommitDelayStep     time.Duration `mapstructure:"commit_delay_step"`
	}

	MetricsConfig struct {
		Addr string `mapstructure:"addr"`
	}
)

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "localhost:9090")
	v.SetDefault("server.public_url", "http://localhost:9090")
	v.SetDefault("server.domain", "localhost")

	v.SetDefault("client.user", "")
	v.SetDefault("client.id", "")
	v.SetDefault("client.domain", "localhost")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "mls_chat")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)

	v.SetDefault("mls.ciphersuite", model.DefaultCiphersuite.String())
	v.SetDefault("mls.key_package_target", mls.DefaultKeyPackageTarget)
	v.SetDefault("mls.key_package_recheck", mls.DefaultKeyPackageRecheck)
	v.SetDefault("mls.key_lifetime_days", mls.DefaultKeyLifetimeDays)
	v.SetDefault("mls.commit_workers", 4)
	v.SetDefault("mls.maintenance_interval", mls.DefaultMaintenanceInterval)
	v.SetDefault("mls.commit_delay_step", 5*time.Second)

	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration from path (if any), the environment and
// whatever flags were bound to v. Env vars use the MLSCHAT_ prefix with
// dots replaced by underscores, e.g. MLSCHAT_REDIS_ADDR.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Coordinator turns the mls section into the coordinator configuration.
func (c MLSConfig) Coordinator(self model.MemberHandle) (mls.Config, error) {
	suite, err := model.ParseCiphersuite(c.Ciphersuite)
	if err != nil {
		return mls.Config{}, err
	}
	return mls.Config{
		Self:                self,
		Ciphersuite:         suite,
		KeyPackageTarget:    c.KeyPackageTarget,
		KeyPackageRecheck:   c.KeyPackageRecheck,
		KeyLifetimeDays:     c.KeyLifetimeDays,
		CommitWorkers:       c.CommitWorkers,
		MaintenanceInterval: c.MaintenanceInterval,
	}, nil
}
