package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Server struct {
	Port           int      `mapstructure:"port"`
	NodeID         int64    `mapstructure:"node_id"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // empty admits all
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type Mongo struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

type Nats struct {
	URL string `mapstructure:"url"`
}

type JWT struct {
	Secret string `mapstructure:"secret"`
}

// Registry selects the connection-registry backend at startup.
type Registry struct {
	Backend string        `mapstructure:"backend"` // "redis" | "mongo"
	TTL     time.Duration `mapstructure:"ttl"`     // shared record TTL, refreshed per heartbeat
}

type Fanout struct {
	IncludeSender   bool   `mapstructure:"include_sender"`
	ResponderHandle string `mapstructure:"responder_handle"`
	ResponderUserID string `mapstructure:"responder_user_id"`
}

type Heartbeat struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type Config struct {
	Server    Server    `mapstructure:"server"`
	Redis     Redis     `mapstructure:"redis"`
	Mongo     Mongo     `mapstructure:"mongo"`
	Nats      Nats      `mapstructure:"nats"`
	JWT       JWT       `mapstructure:"jwt"`
	Registry  Registry  `mapstructure:"registry"`
	Fanout    Fanout    `mapstructure:"fanout"`
	Heartbeat Heartbeat `mapstructure:"heartbeat"`
}

// Load reads config.yaml from path (or the working directory) with
// HUGIN_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("hugin")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; defaults + env are enough to boot
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.node_id", 1)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 16)
	v.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("mongo.database", "hugin")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("registry.backend", "redis")
	v.SetDefault("registry.ttl", 2*time.Hour)
	v.SetDefault("fanout.include_sender", true)
	v.SetDefault("fanout.responder_handle", "@llm")
	v.SetDefault("fanout.responder_user_id", "llm")
	v.SetDefault("heartbeat.ping_interval", 25*time.Second)
}
