package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Relay modes for realtime fan-out.
const (
	RelayLocal = "local"
	RelayRedis = "redis"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Chat      ChatConfig
	Realtime  RealtimeConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	AllowedOrigins        []string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// ChatConfig tunes conversation behavior.
type ChatConfig struct {
	ReopenOnCustomerReply bool
	MaxMessageLength      int
	DefaultListLimit      int
	MaxListLimit          int
	DefaultHistoryLimit   int
	MaxHistoryLimit       int
	JoinSnapshotLimit     int
	StaffDisplayName      string
}

// RealtimeConfig tunes websocket connections.
type RealtimeConfig struct {
	Relay                string
	RelayChannel         string
	PresenceKey          string
	SendBufferSize       int
	MaxFrameBytes        int64
	PongWaitSeconds      int
	OperationTimeoutSecs int
	HandshakeTimeoutSecs int
}

// KafkaConfig configures the outbound notification stream. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// RateLimitConfig bounds how fast a single identity may send messages.
type RateLimitConfig struct {
	MessagesPerWindow int
	WindowSeconds     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	relay := strings.ToLower(getEnv("REALTIME_RELAY", RelayLocal))
	if relay != RelayLocal && relay != RelayRedis {
		return nil, fmt.Errorf("invalid REALTIME_RELAY %q: expected %q or %q", relay, RelayLocal, RelayRedis)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "guest-messaging"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			AllowedOrigins:        getEnvAsList("WS_ALLOWED_ORIGINS"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Chat: ChatConfig{
			ReopenOnCustomerReply: getEnvAsBool("CHAT_REOPEN_ON_CUSTOMER_REPLY", false),
			MaxMessageLength:      getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", 4000),
			DefaultListLimit:      getEnvAsInt("CHAT_LIST_DEFAULT_LIMIT", 50),
			MaxListLimit:          getEnvAsInt("CHAT_LIST_MAX_LIMIT", 100),
			DefaultHistoryLimit:   getEnvAsInt("CHAT_HISTORY_DEFAULT_LIMIT", 100),
			MaxHistoryLimit:       getEnvAsInt("CHAT_HISTORY_MAX_LIMIT", 500),
			JoinSnapshotLimit:     getEnvAsInt("CHAT_JOIN_SNAPSHOT_LIMIT", 100),
			StaffDisplayName:      getEnv("CHAT_STAFF_DISPLAY_NAME", "Hotel Staff"),
		},
		Realtime: RealtimeConfig{
			Relay:                relay,
			RelayChannel:         getEnv("REALTIME_RELAY_CHANNEL", "chat:events"),
			PresenceKey:          getEnv("REALTIME_PRESENCE_KEY", "chat:presence:staff"),
			SendBufferSize:       getEnvAsInt("REALTIME_SEND_BUFFER", 256),
			MaxFrameBytes:        int64(getEnvAsInt("REALTIME_MAX_FRAME_BYTES", 8192)),
			PongWaitSeconds:      getEnvAsInt("REALTIME_PONG_WAIT_SECONDS", 60),
			OperationTimeoutSecs: getEnvAsInt("REALTIME_OPERATION_TIMEOUT_SECONDS", 5),
			HandshakeTimeoutSecs: getEnvAsInt("REALTIME_HANDSHAKE_TIMEOUT_SECONDS", 10),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_MESSAGES_TOPIC", "chat.messages.created"),
		},
		RateLimit: RateLimitConfig{
			MessagesPerWindow: getEnvAsInt("RATE_LIMIT_MESSAGES_PER_MINUTE", 0),
			WindowSeconds:     getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PongWait is how long a connection may stay silent before it is dropped.
func (r RealtimeConfig) PongWait() time.Duration {
	return secondsOr(r.PongWaitSeconds, 60)
}

// OperationTimeout bounds a single inbound realtime operation.
func (r RealtimeConfig) OperationTimeout() time.Duration {
	return secondsOr(r.OperationTimeoutSecs, 5)
}

// HandshakeTimeout bounds the websocket upgrade.
func (r RealtimeConfig) HandshakeTimeout() time.Duration {
	return secondsOr(r.HandshakeTimeoutSecs, 10)
}

// Window returns the rate limit window.
func (r RateLimitConfig) Window() time.Duration {
	return secondsOr(r.WindowSeconds, 60)
}

// Enabled reports whether sends are rate limited at all.
func (r RateLimitConfig) Enabled() bool {
	return r.MessagesPerWindow > 0
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
