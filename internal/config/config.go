package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates application configuration values.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	SMS       SMSConfig
	OTP       OTPConfig
	Reconcile ReconcileConfig
	Logging   LoggingConfig
}

type AppConfig struct {
	GinMode         string
	HTTPPort        string
	GRPCPort        string
	ShutdownTimeout time.Duration
}

// DatabaseConfig describes the relational store. Driver "memory" swaps in the
// in-process store for local runs.
type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	MaxIdleConns int
	MaxOpenConns int
	ConnLifetime time.Duration
	AutoMigrate  bool
}

// DSN renders the go-sql-driver/mysql connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// MigrationDSN is DSN with multi-statement scripts enabled for golang-migrate.
func (c DatabaseConfig) MigrationDSN() string {
	return c.DSN() + "&multiStatements=true"
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GatewayConfig holds Hubtel credentials and endpoints. It is handed to the
// gateway client at construction.
type GatewayConfig struct {
	ClientID        string
	ClientSecret    string
	MerchantAccount string
	BaseURL         string
	StatusURL       string
	CallbackURL     string
	ReturnURL       string
	CancellationURL string
	Timeout         time.Duration
	RateLimit       float64
	Burst           int
}

type SMSConfig struct {
	Enabled  bool
	BaseURL  string
	APIKey   string
	SenderID string
	Timeout  time.Duration
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

type ReconcileConfig struct {
	SweepSchedule string
	StaleAfter    time.Duration
	BatchSize     int
}

type LoggingConfig struct {
	Level  string
	Format string
}

var defaults = map[string]interface{}{
	"GIN_MODE":                  "release",
	"PORT":                      "8080",
	"GRPC_PORT":                 "50051",
	"SHUTDOWN_TIMEOUT":          "10s",
	"STORE_DRIVER":              "mysql",
	"DB_HOST":                   "127.0.0.1",
	"DB_PORT":                   "3306",
	"DB_NAME":                   "payments",
	"DB_MAX_IDLE_CONNECTIONS":   5,
	"DB_MAX_OPEN_CONNECTIONS":   10,
	"DB_CONNECTION_LIFETIME":    "60s",
	"DB_AUTO_MIGRATE":           false,
	"REDIS_URL":                 "localhost:6379",
	"REDIS_DB":                  0,
	"HUBTEL_BASE_URL":           "https://payproxyapi.hubtel.com",
	"HUBTEL_STATUS_URL":         "https://api-txnstatus.hubtel.com",
	"HUBTEL_CANCELLATION":       "",
	"HUBTEL_TIMEOUT":            "10s",
	"HUBTEL_RATE_LIMIT":         20.0,
	"HUBTEL_BURST":              5,
	"SMS_ENABLED":               true,
	"SMS_BASE_URL":              "https://sms.arkesel.com/sms/api",
	"SMS_SENDER_ID":             "PAYMENTS",
	"SMS_TIMEOUT":               "5s",
	"OTP_TTL":                   "10m",
	"OTP_MAX_ATTEMPTS":          3,
	"RECONCILE_SWEEP_SCHEDULE":  "*/5 * * * *",
	"RECONCILE_STALE_AFTER":     "15m",
	"RECONCILE_SWEEP_BATCH":     100,
	"LOG_LEVEL":                 "info",
	"LOG_FORMAT":                "json",
}

// LoadEnv reads .env from the working directory or its parent, falling back to
// the process environment.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}
}

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	cfg := Config{
		App: AppConfig{
			GinMode:         v.GetString("GIN_MODE"),
			HTTPPort:        v.GetString("PORT"),
			GRPCPort:        v.GetString("GRPC_PORT"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(v.GetString("STORE_DRIVER")),
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetString("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Name:         v.GetString("DB_NAME"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNECTIONS"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNECTIONS"),
			ConnLifetime: v.GetDuration("DB_CONNECTION_LIFETIME"),
			AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_URL"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Gateway: GatewayConfig{
			ClientID:        v.GetString("HUBTEL_APPID"),
			ClientSecret:    v.GetString("HUBTEL_API_KEY"),
			MerchantAccount: v.GetString("HUBTEL_MERCHANT_ACCOUNT"),
			BaseURL:         strings.TrimRight(v.GetString("HUBTEL_BASE_URL"), "/"),
			StatusURL:       strings.TrimRight(v.GetString("HUBTEL_STATUS_URL"), "/"),
			CallbackURL:     v.GetString("HUBTEL_CALLBACK"),
			ReturnURL:       v.GetString("HUBTEL_RETURN_URL"),
			CancellationURL: v.GetString("HUBTEL_CANCELLATION"),
			Timeout:         v.GetDuration("HUBTEL_TIMEOUT"),
			RateLimit:       v.GetFloat64("HUBTEL_RATE_LIMIT"),
			Burst:           v.GetInt("HUBTEL_BURST"),
		},
		SMS: SMSConfig{
			Enabled:  v.GetBool("SMS_ENABLED"),
			BaseURL:  v.GetString("SMS_BASE_URL"),
			APIKey:   v.GetString("SMS_API_KEY"),
			SenderID: v.GetString("SMS_SENDER_ID"),
			Timeout:  v.GetDuration("SMS_TIMEOUT"),
		},
		OTP: OTPConfig{
			TTL:         v.GetDuration("OTP_TTL"),
			MaxAttempts: v.GetInt("OTP_MAX_ATTEMPTS"),
		},
		Reconcile: ReconcileConfig{
			SweepSchedule: v.GetString("RECONCILE_SWEEP_SCHEDULE"),
			StaleAfter:    v.GetDuration("RECONCILE_STALE_AFTER"),
			BatchSize:     v.GetInt("RECONCILE_SWEEP_BATCH"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bounds that would otherwise surface as runtime surprises.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Database.Driver)
	}
	if c.Gateway.Timeout <= 0 || c.Gateway.Timeout > 30*time.Second {
		return fmt.Errorf("HUBTEL_TIMEOUT must be within (0s, 30s], got %s", c.Gateway.Timeout)
	}
	if c.SMS.Timeout <= 0 || c.SMS.Timeout > 30*time.Second {
		return fmt.Errorf("SMS_TIMEOUT must be within (0s, 30s], got %s", c.SMS.Timeout)
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTP.TTL)
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTP.MaxAttempts)
	}
	if c.Reconcile.StaleAfter <= 0 {
		return fmt.Errorf("RECONCILE_STALE_AFTER must be positive, got %s", c.Reconcile.StaleAfter)
	}
	if c.Reconcile.BatchSize <= 0 {
		return fmt.Errorf("RECONCILE_SWEEP_BATCH must be positive, got %d", c.Reconcile.BatchSize)
	}
	return nil
}
