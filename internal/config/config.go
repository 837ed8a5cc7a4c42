package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API      APIConfig
	Auth     AuthConfig
	Hold     HoldConfig
	Purchase PurchaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Journal  JournalConfig
	Server   ServerConfig // sandbox only
	Log      LogConfig
}

// APIConfig is the REST boundary every client component talks to.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type AuthConfig struct {
	Token        string // static bearer token, optional
	TokenURL     string // client credentials grant, used when ClientID is set
	ClientID     string
	ClientSecret string
}

type HoldConfig struct {
	Debounce       time.Duration
	RenewInterval  time.Duration
	AssumedExpiry  time.Duration
	ReleaseTimeout time.Duration
	RequestTimeout time.Duration
}

type PurchaseConfig struct {
	SalesCutoff   time.Duration
	ReceiptDir    string
	ReceiptSecret string // encrypts the boarding QR payload when set
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	HoldEvents string
	SeatStatus string
}

type JournalConfig struct {
	DSN string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	SeatLockTTL  time.Duration
	CatalogPath  string
	JWTSecret    string
}

type LogConfig struct {
	Dir   string
	Level string
}

func Load() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: strings.TrimSuffix(getEnv("API_BASE_URL", "http://localhost:8084"), "/"),
			Timeout: getEnvDuration("API_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			Token:        getEnv("API_TOKEN", ""),
			TokenURL:     getEnv("AUTH_TOKEN_URL", ""),
			ClientID:     getEnv("AUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("AUTH_CLIENT_SECRET", ""),
		},
		Hold: HoldConfig{
			Debounce:       getEnvDuration("HOLD_DEBOUNCE", 350*time.Millisecond),
			RenewInterval:  getEnvDuration("HOLD_RENEW_INTERVAL", 120*time.Second),
			AssumedExpiry:  getEnvDuration("HOLD_ASSUMED_EXPIRY", 5*time.Minute),
			ReleaseTimeout: getEnvDuration("HOLD_RELEASE_TIMEOUT", 5*time.Second),
			RequestTimeout: getEnvDuration("HOLD_REQUEST_TIMEOUT", 10*time.Second),
		},
		Purchase: PurchaseConfig{
			SalesCutoff:   getEnvDuration("SALES_CUTOFF", 60*time.Minute),
			ReceiptDir:    getEnv("RECEIPT_DIR", "receipts"),
			ReceiptSecret: getEnv("RECEIPT_SECRET", ""),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getEnv("KAFKA_GROUP_ID", "busticket-client"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Topics: TopicConfig{
				HoldEvents: getEnv("KAFKA_TOPIC_HOLD_EVENTS", "busticket.holds.events"),
				SeatStatus: getEnv("KAFKA_TOPIC_SEAT_STATUS", "busticket.seats.status"),
			},
		},
		Journal: JournalConfig{
			DSN: getEnv("JOURNAL_DSN", "file:busticket.db?cache=shared"),
		},
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			SeatLockTTL:  getEnvDuration("SEAT_LOCK_TTL", 5*time.Minute),
			CatalogPath:  getEnv("CATALOG_PATH", "catalog.yaml"),
			JWTSecret:    getEnv("SANDBOX_JWT_SECRET", ""),
		},
		Log: LogConfig{
			Dir:   getEnv("LOG_DIR", "logs"),
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

// Validate rejects settings that would break the hold protocol, most importantly a
// renewal interval that does not fit inside the assumed server-side expiry.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL must be set"))
	}
	if c.Hold.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("HOLD_DEBOUNCE must be positive, got %s", c.Hold.Debounce))
	}
	if c.Hold.RenewInterval <= 0 {
		errs = append(errs, fmt.Errorf("HOLD_RENEW_INTERVAL must be positive, got %s", c.Hold.RenewInterval))
	}
	if c.Hold.RenewInterval >= c.Hold.AssumedExpiry {
		errs = append(errs, fmt.Errorf("HOLD_RENEW_INTERVAL (%s) must be shorter than HOLD_ASSUMED_EXPIRY (%s)",
			c.Hold.RenewInterval, c.Hold.AssumedExpiry))
	}
	if c.Hold.ReleaseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HOLD_RELEASE_TIMEOUT must be positive, got %s", c.Hold.ReleaseTimeout))
	}
	if c.Purchase.SalesCutoff < 0 {
		errs = append(errs, fmt.Errorf("SALES_CUTOFF must not be negative, got %s", c.Purchase.SalesCutoff))
	}
	if c.Auth.ClientID != "" && c.Auth.TokenURL == "" {
		errs = append(errs, errors.New("AUTH_TOKEN_URL is required when AUTH_CLIENT_ID is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("350ms", "2m") and bare integers as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs := getEnvInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
