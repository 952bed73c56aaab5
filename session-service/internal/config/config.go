package config

import (
	"time"

	"github.com/spf13/viper"
	pkgconfig "github.com/weiawesome/campaign-live/pkg/config"
	"github.com/weiawesome/campaign-live/pkg/database"
	"github.com/weiawesome/campaign-live/pkg/log"
	"github.com/weiawesome/campaign-live/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Session   SessionConfig
	Database  database.Config
	Redis     RedisConfig
	Campaign  CampaignConfig
	Store     StoreConfig
	Relay     RelayConfig
	Log       log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	NodeID          string        `mapstructure:"node_id"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"-"`
	PongWait       time.Duration `mapstructure:"-"`
	WriteWait      time.Duration `mapstructure:"-"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"-"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
	Leeway    time.Duration `mapstructure:"-"`
}

// SessionConfig holds the business rules enforced by the event router.
type SessionConfig struct {
	EditWindow       time.Duration `mapstructure:"-"`
	MaxContentLength int           `mapstructure:"max_content_length"`
	TypingTimeout    time.Duration `mapstructure:"-"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	AllowedReactions []string      `mapstructure:"-"`
	UpstreamTimeout  time.Duration `mapstructure:"-"`
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type CampaignConfig struct {
	CacheTTL time.Duration `mapstructure:"-"`
	Breaker  BreakerConfig
}

// StoreConfig guards the message store and roll log.
type StoreConfig struct {
	Breaker BreakerConfig
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"-"`
	Timeout          time.Duration `mapstructure:"-"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// RelayConfig controls cross-node fan-out. Driver "none" keeps every
// broadcast local to this process.
type RelayConfig struct {
	Driver            string
	Kafka             pubsub.KafkaConfig
	DirectoryPrefix   string        `mapstructure:"directory_prefix"`
	HeartbeatInterval time.Duration `mapstructure:"-"`
	KeyTTL            time.Duration `mapstructure:"-"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and environment bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	// Durations and lists are read below with fallbacks instead of failing
	// the whole decode.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 30*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.AllowedOrigins = pkgconfig.StringSlice(v, "websocket.allowed_origins")
	cfg.Auth.Leeway = pkgconfig.Duration(v, "auth.leeway", 30*time.Second)
	cfg.Session.EditWindow = pkgconfig.Duration(v, "session.edit_window", 15*time.Minute)
	cfg.Session.TypingTimeout = pkgconfig.Duration(v, "session.typing_timeout", 8*time.Second)
	cfg.Session.UpstreamTimeout = pkgconfig.Duration(v, "session.upstream_timeout", 5*time.Second)
	cfg.Session.AllowedReactions = pkgconfig.StringSlice(v, "session.allowed_reactions")
	cfg.Database.ConnMaxLifetime = pkgconfig.Duration(v, "database.conn_max_lifetime", 30*time.Minute)
	cfg.Campaign.CacheTTL = pkgconfig.Duration(v, "campaign.cache_ttl", time.Minute)
	cfg.Campaign.Breaker.Interval = pkgconfig.Duration(v, "campaign.breaker.interval", time.Minute)
	cfg.Campaign.Breaker.Timeout = pkgconfig.Duration(v, "campaign.breaker.timeout", 30*time.Second)
	cfg.Store.Breaker.Interval = pkgconfig.Duration(v, "store.breaker.interval", time.Minute)
	cfg.Store.Breaker.Timeout = pkgconfig.Duration(v, "store.breaker.timeout", 30*time.Second)
	cfg.Relay.HeartbeatInterval = pkgconfig.Duration(v, "relay.heartbeat_interval", 10*time.Second)
	cfg.Relay.KeyTTL = pkgconfig.Duration(v, "relay.key_ttl", 30*time.Second)

	if cfg.Session.MaxContentLength <= 0 {
		cfg.Session.MaxContentLength = 2000
	}
	if cfg.Session.HistoryLimit <= 0 {
		cfg.Session.HistoryLimit = 50
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.node_id", "")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 16384)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", "30s")
	v.SetDefault("session.edit_window", "15m")
	v.SetDefault("session.max_content_length", 2000)
	v.SetDefault("session.typing_timeout", "8s")
	v.SetDefault("session.history_limit", 50)
	v.SetDefault("session.allowed_reactions", "")
	v.SetDefault("session.upstream_timeout", "5s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "campaign")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.filepath", "campaign.db")
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.maxopenconns", 20)
	v.SetDefault("database.loglevel", "warn")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("campaign.cache_ttl", "1m")
	v.SetDefault("campaign.breaker.max_requests", 1)
	v.SetDefault("campaign.breaker.interval", "1m")
	v.SetDefault("campaign.breaker.timeout", "30s")
	v.SetDefault("campaign.breaker.failure_threshold", 5)
	v.SetDefault("store.breaker.max_requests", 1)
	v.SetDefault("store.breaker.interval", "1m")
	v.SetDefault("store.breaker.timeout", "30s")
	v.SetDefault("store.breaker.failure_threshold", 5)
	v.SetDefault("relay.driver", "none")
	v.SetDefault("relay.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.kafka.group_id", "session-relay")
	v.SetDefault("relay.kafka.partitions", 4)
	v.SetDefault("relay.directory_prefix", "campaign:rooms")
	v.SetDefault("relay.heartbeat_interval", "10s")
	v.SetDefault("relay.key_ttl", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "session-service")
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.node_id", "NODE_ID")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.filepath", "DB_FILEPATH")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("relay.driver", "RELAY_DRIVER")
	v.BindEnv("relay.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("session.allowed_reactions", "ALLOWED_REACTIONS")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")
}
