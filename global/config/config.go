package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"statusbridge/data/database/mgo/mongoutil"
	"statusbridge/logger"
	"statusbridge/service/kafka"
	"statusbridge/service/natsx"
	"statusbridge/service/rctogether"
	"statusbridge/service/storage/postgres"
	"statusbridge/service/storage/redis"
	"statusbridge/service/zulip"
)

const envPrefix = "STATUSBRIDGE"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type AppConfig struct {
	Server  ServerConfig      `mapstructure:"server"`
	Log     logger.Config     `mapstructure:"log"`
	Store   StoreConfig       `mapstructure:"store"`
	Zulip   zulip.Config      `mapstructure:"zulip"`
	RC      rctogether.Config `mapstructure:"rc"`
	Status  StatusConfig      `mapstructure:"status"`
	Expiry  ExpiryConfig      `mapstructure:"expiry"`
	Webhook WebhookConfig     `mapstructure:"webhook"`
	History HistoryConfig     `mapstructure:"history"`
	Events  EventsConfig      `mapstructure:"events"`
}

type ServerConfig struct {
	Domain          string        `mapstructure:"domain"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Domain, s.Port)
}

type StoreConfig struct {
	Driver   string          `mapstructure:"driver"` // memory/postgres/redis
	Postgres postgres.Config `mapstructure:"postgres"`
	Redis    redis.Config    `mapstructure:"redis"`
	// ConnectTimeout bounds the retries of the first connection at boot.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type StatusConfig struct {
	MaxExpiry      time.Duration `mapstructure:"max_expiry"`
	DefaultExpiry  time.Duration `mapstructure:"default_expiry"`
	Timezone       string        `mapstructure:"timezone"`
	MaxTextLen     int           `mapstructure:"max_text_len"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type ExpiryConfig struct {
	Workers int `mapstructure:"workers"`
}

type WebhookConfig struct {
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxBody   int64         `mapstructure:"max_body"`
}

type HistoryConfig struct {
	Mongo mongoutil.Config `mapstructure:"mongo"`
}

// Enabled reports whether a mongo deployment was configured.
func (h HistoryConfig) Enabled() bool {
	return h.Mongo.Uri != "" || len(h.Mongo.Address) > 0
}

type EventsConfig struct {
	Timeout time.Duration     `mapstructure:"timeout"`
	Nats    natsx.NatsxConfig `mapstructure:"nats"`
	Kafka   kafka.Config      `mapstructure:"kafka"`
}

// defaults lists every key together with its default. Viper only maps
// environment variables onto keys it knows, so keys without a real
// default are listed with their zero value.
var defaults = map[string]any{
	"server.domain":           "0.0.0.0",
	"server.port":             8080,
	"server.shutdown_timeout": 5 * time.Second,

	"log.level":  "info",
	"log.format": "console",

	"store.driver":             DriverMemory,
	"store.connect_timeout":    30 * time.Second,
	"store.postgres.dsn":       "",
	"store.postgres.max_conns": 0,
	"store.redis.addr":         "",
	"store.redis.password":     "",
	"store.redis.db":           0,
	"store.redis.pool_size":    0,
	"store.redis.prefix":       "statusbridge",

	"zulip.site":          "",
	"zulip.bot_email":     "",
	"zulip.bot_api_key":   "",
	"zulip.bot_api_token": "",
	"zulip.maintainers":   []string{},
	"zulip.timeout":       10 * time.Second,

	"rc.site":           "",
	"rc.app_id":         "",
	"rc.app_secret":     "",
	"rc.bot_id":         "",
	"rc.desk_cache_ttl": time.Minute,
	"rc.timeout":        10 * time.Second,

	"status.max_expiry":      rctogether.MaxExpiry,
	"status.default_expiry":  time.Duration(0),
	"status.timezone":        "UTC",
	"status.max_text_len":    60,
	"status.publish_timeout": 10 * time.Second,

	"expiry.workers": 2,

	"webhook.dedupe_ttl": 10 * time.Minute,
	"webhook.timeout":    30 * time.Second,
	"webhook.max_body":   1 << 20,

	"history.mongo.uri":           "",
	"history.mongo.database":      "statusbridge",
	"history.mongo.collection":    "status_history",
	"history.mongo.username":      "",
	"history.mongo.password":      "",
	"history.mongo.max_pool_size": 10,
	"history.mongo.max_retry":     3,

	"events.timeout":           5 * time.Second,
	"events.nats.servers":      []string{},
	"events.nats.subject":      "statusbridge.status",
	"events.nats.name":         "statusbridge",
	"events.kafka.brokers":     []string{},
	"events.kafka.topic":       "statusbridge.status",
	"events.kafka.version":     "",
	"events.kafka.retries":     3,
	"events.kafka.compression": "",
}

// bareEnv are the variable names the bot has always been deployed with.
var bareEnv = map[string]string{
	"server.domain":       "SERVER_DOMAIN",
	"server.port":         "SERVER_PORT",
	"zulip.site":          "ZULIP_SITE",
	"zulip.bot_email":     "ZULIP_BOT_EMAIL",
	"zulip.bot_api_key":   "ZULIP_BOT_API_KEY",
	"zulip.bot_api_token": "ZULIP_BOT_API_TOKEN",
	"rc.site":             "RC_SITE",
	"rc.app_id":           "RC_APP_ID",
	"rc.app_secret":       "RC_APP_SECRET",
	"rc.bot_id":           "RC_BOT_ID",
}

// LoadDotenv loads .env.prod when RUN_MODE=PROD and .env.devel otherwise.
// On Fly (FLY_APP_NAME set) only the real environment is used. A missing
// file is not an error; variables already set are never overridden.
func LoadDotenv() (string, error) {
	if os.Getenv("FLY_APP_NAME") != "" {
		return "", nil
	}
	file := ".env.devel"
	if strings.EqualFold(os.Getenv("RUN_MODE"), "PROD") {
		file = ".env.prod"
	}
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return file, fmt.Errorf("config: load %s: %w", file, err)
	}
	return file, nil
}

// Load reads the optional YAML file at path, applies the environment on
// top and validates the result.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range bareEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg AppConfig
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: store.postgres.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("config: store.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Expiry.Workers <= 0 {
		return fmt.Errorf("config: expiry.workers must be positive, got %d", c.Expiry.Workers)
	}
	if c.Status.MaxExpiry < 0 || c.Status.DefaultExpiry < 0 {
		return errors.New("config: status expiries may not be negative")
	}
	if c.Status.MaxExpiry > 0 && c.Status.DefaultExpiry > c.Status.MaxExpiry {
		return errors.New("config: status.default_expiry exceeds status.max_expiry")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location is the zone "until" expiries resolve in.
func (c *AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Status.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: status.timezone: %w", err)
	}
	return loc, nil
}

// Redacted is a copy safe to log.
func (c AppConfig) Redacted() AppConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	c.Zulip.BotAPIKey = mask(c.Zulip.BotAPIKey)
	c.Zulip.BotAPIToken = mask(c.Zulip.BotAPIToken)
	c.RC.AppSecret = mask(c.RC.AppSecret)
	c.Store.Redis.Password = mask(c.Store.Redis.Password)
	c.Store.Postgres.DSN = mask(c.Store.Postgres.DSN)
	c.History.Mongo.Password = mask(c.History.Mongo.Password)
	c.History.Mongo.Uri = mask(c.History.Mongo.Uri)
	c.Events.Nats.Password = mask(c.Events.Nats.Password)
	c.Zulip.Maintainers = append([]string(nil), c.Zulip.Maintainers...)
	return c
}
