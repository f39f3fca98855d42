package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable via STORE_BACKEND.
const (
	BackendScylla = "scylla"
	BackendDynamo = "dynamo"
	BackendRedis  = "redis"
)

type Config struct {
	Environment string

	Server  ServerConfig
	Logging LoggingConfig
	Store   StoreConfig
	Scylla  ScyllaConfig
	Dynamo  DynamoConfig
	Redis   RedisConfig
	Reaper  ReaperConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StoreConfig struct {
	// Backend selects which OTPStore implementation the factory builds.
	Backend string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type DynamoConfig struct {
	TableName      string
	PhoneIndexName string
	Region         string
	// Endpoint overrides the AWS endpoint for DynamoDB Local.
	Endpoint string
}

type RedisConfig struct {
	URL       string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

type ReaperConfig struct {
	Enabled  bool
	Interval time.Duration
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when present. Called exactly once at process start by the factory.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", BackendScylla),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"127.0.0.1:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "otp"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Dynamo: DynamoConfig{
			TableName:      getEnv("DYNAMO_TABLE_NAME", "otp_codes"),
			PhoneIndexName: getEnv("DYNAMO_PHONE_INDEX_NAME", "PhoneNumberIndex"),
			Region:         getEnv("AWS_REGION", "us-east-1"),
			Endpoint:       getEnv("DYNAMO_ENDPOINT", ""),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			PoolSize:  getEnvInt("REDIS_POOL_SIZE", 50),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "otp:"),
		},
		Reaper: ReaperConfig{
			Enabled:  getEnvBool("REAPER_ENABLED", true),
			Interval: getEnvDuration("REAPER_INTERVAL", 5*time.Minute),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}
