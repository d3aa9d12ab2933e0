package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverBolt     = "bolt"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	APIAddr     string
	AdminAddr   string
	StaticDir   string
	DBFile      string
	StoreDriver string
	DatabaseURL string

	AuthSecret  string
	TokenExpiry time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendTimeout       time.Duration
	SendBuffer        int
	MaxMessageSize    int64
	MaxTextLength     int

	RateLimitPerMinute int
	RateLimitBurst     int
	AllowedOrigins     []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	LogLevel  string
	LogFormat string
}

func Load(cliMode bool) (*Config, error) {
	var p parser

	cfg := &Config{
		APIAddr:     getEnv("API_ADDR", ":8080"),
		AdminAddr:   getEnv("ADMIN_ADDR", "localhost:8081"),
		StaticDir:   os.Getenv("STATIC_DIR"),
		DBFile:      getEnv("DUET_DB", "duet.db"),
		StoreDriver: getEnv("STORE_DRIVER", StoreDriverBolt),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		AuthSecret:  os.Getenv("AUTH_SECRET"),
		TokenExpiry: p.duration("TOKEN_EXPIRY", "24h"),

		HeartbeatInterval: p.duration("HEARTBEAT_INTERVAL", "20s"),
		HeartbeatTimeout:  p.duration("HEARTBEAT_TIMEOUT", "60s"),
		SendTimeout:       p.duration("SEND_TIMEOUT", "2s"),
		SendBuffer:        p.integer("SEND_BUFFER", "256"),
		MaxMessageSize:    int64(p.integer("MAX_MESSAGE_SIZE", "4096")),
		MaxTextLength:     p.integer("MAX_TEXT_LENGTH", "2000"),

		RateLimitPerMinute: p.integer("RATE_LIMIT_PER_MINUTE", "120"),
		RateLimitBurst:     p.integer("RATE_LIMIT_BURST", "50"),
		AllowedOrigins:     splitList(os.Getenv("ALLOWED_ORIGINS")),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.integer("REDIS_DB", "0"),

		NATSURL: os.Getenv("NATS_URL"),

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("VAPID_SUBJECT", "mailto:admin@localhost"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	switch c.StoreDriver {
	case StoreDriverBolt:
		if c.DBFile == "" {
			return fmt.Errorf("DUET_DB is required for the bolt store")
		}
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be greater than 0")
	}

	// A single lost heartbeat must not evict a connection.
	if c.HeartbeatTimeout < 2*c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT (%s) must be at least twice HEARTBEAT_INTERVAL (%s)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}

	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be greater than 0")
	}

	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}

	if c.MaxMessageSize <= 0 || c.MaxTextLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE and MAX_TEXT_LENGTH must be greater than 0")
	}

	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be greater than 0")
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}

func (p *parser) integer(key, fallback string) int {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
