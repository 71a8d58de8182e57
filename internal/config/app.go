package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"courier/internal/adapters/redis"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// AppConfig holds application-level configuration.
type AppConfig struct {
	ServerID   string
	HTTPAddr   string
	Role       string
	EnginePath string
	Store      StoreConfig
	Redis      redis.Config
	Postgres   PostgresConfig
	AppConfig  AppConfigSettings
	Worker     WorkerConfig
	Gateway    GatewayConfig
	Secrets    SecretsConfig
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Backend string
}

// PostgresConfig holds the durable store settings.
type PostgresConfig struct {
	URL string
}

// AppConfigSettings holds AWS AppConfig settings.
type AppConfigSettings struct {
	Endpoint         string
	ApplicationID    string
	EnvironmentID    string
	EngineProfile    string
	DirectoryProfile string
	TemplateProfile  string
}

// WorkerConfig holds timeout sweep and state settings.
type WorkerConfig struct {
	SweepInterval time.Duration
	SweepBatch    int64
	ScanCount     int64
	StateTTL      time.Duration
	LockTTL       time.Duration
	SignalTTL     time.Duration
	QueueName     string
	FaultQueue    string
}

// GatewayConfig holds the channel gateway client settings.
type GatewayConfig struct {
	Endpoints    map[string]string // service id -> base URL
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	RateLimit    float64 // requests per second, 0 disables limiting
}

// SecretsConfig names the Secrets Manager secret holding credentials.
type SecretsConfig struct {
	Name string
}

// LoadFromEnv loads configuration from environment variables with sensible defaults.
func LoadFromEnv() (*AppConfig, error) {
	cfg := loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv() *AppConfig {
	// Build Redis config with ElastiCache support
	redisAddr := getEnvOrDefault("REDIS_ADDR", "localhost:6379")

	if elasticacheEndpoint := os.Getenv("ELASTICACHE_ENDPOINT"); elasticacheEndpoint != "" {
		redisAddr = elasticacheEndpoint
	}

	redisCfg := redis.Config{
		Addr:         redisAddr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           getEnvInt("REDIS_DB", 0),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	if os.Getenv("ELASTICACHE_CLUSTER_MODE") == "true" {
		redisCfg.ClusterMode = true
	}

	if sentinelAddrs := os.Getenv("ELASTICACHE_SENTINEL_ADDRS"); sentinelAddrs != "" {
		redisCfg.SentinelAddrs = strings.Split(sentinelAddrs, ",")
		redisCfg.MasterName = os.Getenv("ELASTICACHE_MASTER_NAME")
	}

	hostname, _ := os.Hostname()

	return &AppConfig{
		ServerID:   getEnvOrDefault("SERVER_ID", getEnvOrDefault("AWS_LAMBDA_FUNCTION_NAME", hostname)),
		HTTPAddr:   getEnvOrDefault("HTTP_ADDR", ":8080"),
		Role:       getEnvOrDefault("ENGINE_ROLE", "api"),
		EnginePath: os.Getenv("ENGINE_CONFIG_PATH"),
		Store: StoreConfig{
			Backend: getEnvOrDefault("STORE_BACKEND", BackendRedis),
		},
		Redis: redisCfg,
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		AppConfig: AppConfigSettings{
			Endpoint:         getEnvOrDefault("APPCONFIG_ENDPOINT", "http://localhost:2772"),
			ApplicationID:    os.Getenv("APPCONFIG_APP_ID"),
			EnvironmentID:    os.Getenv("APPCONFIG_ENV_ID"),
			EngineProfile:    os.Getenv("APPCONFIG_ENGINE_PROFILE"),
			DirectoryProfile: getEnvOrDefault("APPCONFIG_DIRECTORY_PROFILE", "directory"),
			TemplateProfile:  os.Getenv("APPCONFIG_TEMPLATE_PROFILE"),
		},
		Worker: WorkerConfig{
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", 30*time.Second),
			SweepBatch:    int64(getEnvInt("SWEEP_BATCH", 100)),
			ScanCount:     int64(getEnvInt("SCAN_COUNT", 100)),
			StateTTL:      getEnvDuration("STATE_TTL", 7*24*time.Hour),
			LockTTL:       getEnvDuration("LOCK_TTL", 10*time.Second),
			SignalTTL:     getEnvDuration("SIGNAL_TTL", 24*time.Hour),
			QueueName:     getEnvOrDefault("INJECT_QUEUE", "courier:inject"),
			FaultQueue:    getEnvOrDefault("FAULT_QUEUE", "courier:faults"),
		},
		Gateway: GatewayConfig{
			Endpoints:    parseEndpoints(os.Getenv("GATEWAY_ENDPOINTS")),
			TokenURL:     os.Getenv("GATEWAY_TOKEN_URL"),
			ClientID:     os.Getenv("GATEWAY_CLIENT_ID"),
			ClientSecret: os.Getenv("GATEWAY_CLIENT_SECRET"),
			Timeout:      getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
			MaxRetries:   getEnvInt("GATEWAY_MAX_RETRIES", 3),
			RetryDelay:   getEnvDuration("GATEWAY_RETRY_DELAY", time.Second),
			RateLimit:    getEnvFloat("GATEWAY_RATE_LIMIT", 0),
		},
		Secrets: SecretsConfig{
			Name: os.Getenv("SECRETS_NAME"),
		},
	}
}

// parseEndpoints reads "SMS=http://sms,EMAIL=http://mail" pairs.
func parseEndpoints(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			continue
		}
		out[strings.ToUpper(key)] = value
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
