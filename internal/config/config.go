package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL          MySQLConfig
	Redis          RedisConfig
	JWT            JWTConfig
	Migrate        bool
	HTTPAddr       string
	Fleet          FleetConfig
	Oracle         OracleConfig
	Storage        StorageConfig
	OfflineSweeper SweeperConfig
	CacheSweeper   SweeperConfig
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// FleetConfig holds device fleet tuning
type FleetConfig struct {
	StalenessSec int // heartbeat window before a device counts as stale
	ClaimRetries int // re-query attempts after losing an assignment race
	EnrollTTLSec int // default lifetime of an enrollment token
}

// OracleConfig holds the domain validity oracle settings
type OracleConfig struct {
	BaseURL    string
	APIKey     string
	TimeoutSec int
}

// StorageConfig holds artifact object storage settings
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PresignTTLSec int
}

// SweeperConfig holds settings for a periodic sweeper
type SweeperConfig struct {
	Enabled     bool
	IntervalSec int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "fleetd"),
		},
		Migrate:  getEnv("MIGRATE", "0") == "1",
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		Fleet: FleetConfig{
			StalenessSec: getEnvInt("FLEET_STALENESS_SEC", 90),
			ClaimRetries: getEnvInt("FLEET_CLAIM_RETRIES", 3),
			EnrollTTLSec: getEnvInt("FLEET_ENROLL_TTL_SEC", 3600),
		},
		Oracle: OracleConfig{
			BaseURL:    getEnv("ORACLE_BASE_URL", ""),
			APIKey:     getEnv("ORACLE_API_KEY", ""),
			TimeoutSec: getEnvInt("ORACLE_TIMEOUT_SEC", 15),
		},
		Storage: StorageConfig{
			Endpoint:      getEnv("STORAGE_ENDPOINT", ""),
			AccessKey:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:     getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:        getEnv("STORAGE_BUCKET", "fleet-artifacts"),
			Region:        getEnv("STORAGE_REGION", ""),
			UseSSL:        getEnv("STORAGE_USE_SSL", "1") == "1",
			PresignTTLSec: getEnvInt("STORAGE_PRESIGN_TTL_SEC", 900),
		},
		OfflineSweeper: SweeperConfig{
			Enabled:     getEnv("OFFLINE_SWEEPER_ENABLED", "1") == "1",
			IntervalSec: getEnvInt("OFFLINE_SWEEPER_INTERVAL_SEC", 30),
		},
		CacheSweeper: SweeperConfig{
			Enabled:     getEnv("CACHE_SWEEPER_ENABLED", "1") == "1",
			IntervalSec: getEnvInt("CACHE_SWEEPER_INTERVAL_SEC", 3600),
		},
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	// Load INI file
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Helper function: get value with priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "fleetd"),
		},
		Migrate:  getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr: getValue("HTTP_ADDR", "http", "addr", ":8080"),
		Fleet: FleetConfig{
			StalenessSec: getValueInt("FLEET_STALENESS_SEC", "fleet", "staleness_sec", 90),
			ClaimRetries: getValueInt("FLEET_CLAIM_RETRIES", "fleet", "claim_retries", 3),
			EnrollTTLSec: getValueInt("FLEET_ENROLL_TTL_SEC", "fleet", "enroll_ttl_sec", 3600),
		},
		Oracle: OracleConfig{
			BaseURL:    getValue("ORACLE_BASE_URL", "oracle", "base_url", ""),
			APIKey:     getValue("ORACLE_API_KEY", "oracle", "api_key", ""),
			TimeoutSec: getValueInt("ORACLE_TIMEOUT_SEC", "oracle", "timeout_sec", 15),
		},
		Storage: StorageConfig{
			Endpoint:      getValue("STORAGE_ENDPOINT", "storage", "endpoint", ""),
			AccessKey:     getValue("STORAGE_ACCESS_KEY", "storage", "access_key", ""),
			SecretKey:     getValue("STORAGE_SECRET_KEY", "storage", "secret_key", ""),
			Bucket:        getValue("STORAGE_BUCKET", "storage", "bucket", "fleet-artifacts"),
			Region:        getValue("STORAGE_REGION", "storage", "region", ""),
			UseSSL:        getValueBool("STORAGE_USE_SSL", "storage", "use_ssl", true),
			PresignTTLSec: getValueInt("STORAGE_PRESIGN_TTL_SEC", "storage", "presign_ttl_sec", 900),
		},
		OfflineSweeper: SweeperConfig{
			Enabled:     getValueBool("OFFLINE_SWEEPER_ENABLED", "offline_sweeper", "enabled", true),
			IntervalSec: getValueInt("OFFLINE_SWEEPER_INTERVAL_SEC", "offline_sweeper", "interval_sec", 30),
		},
		CacheSweeper: SweeperConfig{
			Enabled:     getValueBool("CACHE_SWEEPER_ENABLED", "cache_sweeper", "enabled", true),
			IntervalSec: getValueInt("CACHE_SWEEPER_INTERVAL_SEC", "cache_sweeper", "interval_sec", 3600),
		},
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}
