package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"x402_gateway/internal/x402"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort          string
	JWTSecret         []byte
	AdminPasswordHash string
	Database          DatabaseConfig
	Redis             RedisConfig
	Payment           PaymentConfig
	Upstream          UpstreamConfig
	Refund            RefundConfig
	AccessLog         AccessLogConfig

	// DevMode scales prices down, selects the testnet network and wallet,
	// and mocks the upstream API. Set once at startup.
	DevMode bool
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PaymentConfig holds x402 payment settings
type PaymentConfig struct {
	FacilitatorURL        string
	TestnetWalletAddress  string
	MainnetWalletAddress  string
	MaxTimeoutSeconds     int
	MinRefundThresholdUSD float64
}

// UpstreamConfig holds settings for the proxied inference API
type UpstreamConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// AccessLogConfig holds settings for the JSONL access log. An empty
// FilePathTemplate disables file logging.
type AccessLogConfig struct {
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	BufferSize       int
	FlushInterval    time.Duration
}

// RefundConfig holds refund batch processing settings
type RefundConfig struct {
	Interval time.Duration
	// DisburserRPCURL is the endpoint of the disbursement channel. Empty
	// means the stub disburser is used.
	DisburserRPCURL string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:          getEnvString("HTTP_PORT", "8080"),
		JWTSecret:         []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		AdminPasswordHash: getEnvString("ADMIN_PASSWORD_HASH", ""),
		DevMode:           getEnvBool("DEV_MODE", false),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Payment: PaymentConfig{
			FacilitatorURL:        getEnvString("X402_FACILITATOR_URL", "https://api.facilitator.example.com"),
			TestnetWalletAddress:  getEnvString("X402_TESTNET_WALLET_ADDRESS", ""),
			MainnetWalletAddress:  getEnvString("X402_MAINNET_WALLET_ADDRESS", ""),
			MaxTimeoutSeconds:     getEnvInt("X402_MAX_TIMEOUT_SECONDS", 60),
			MinRefundThresholdUSD: getEnvFloat("MIN_REFUND_THRESHOLD_USD", 0.0001),
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnvString("OPENAI_API_BASE", "https://api.openai.com"),
			APIKey:         getEnvString("OPENAI_API_KEY", ""),
			RequestTimeout: getEnvDuration("UPSTREAM_REQUEST_TIMEOUT", 60*time.Second),
		},
		Refund: RefundConfig{
			Interval:        getEnvDuration("REFUND_INTERVAL", 1*time.Hour),
			DisburserRPCURL: getEnvString("DISBURSER_RPC_URL", ""),
		},
		AccessLog: AccessLogConfig{
			FilePathTemplate: getEnvString("ACCESS_LOG_PATH_TEMPLATE", ""),
			MaxSize:          int64(getEnvInt("ACCESS_LOG_MAX_SIZE", 10*1024*1024)),
			MaxFiles:         getEnvInt("ACCESS_LOG_MAX_FILES", 5),
			BufferSize:       getEnvInt("ACCESS_LOG_BUFFER_SIZE", 1000),
			FlushInterval:    getEnvDuration("ACCESS_LOG_FLUSH_INTERVAL", 5*time.Second),
		},
	}

	if cfg.WalletAddress() == "" {
		return nil, fmt.Errorf("wallet address for the active network is required")
	}

	return cfg, nil
}

// Network returns the active payment network based on dev mode.
func (c *Config) Network() string {
	if c.DevMode {
		return x402.NetworkBaseSepolia
	}
	return x402.NetworkBase
}

// WalletAddress returns the payee address for the active network.
func (c *Config) WalletAddress() string {
	if c.DevMode {
		return c.Payment.TestnetWalletAddress
	}
	return c.Payment.MainnetWalletAddress
}

// ChainID returns the chain ID for the active network.
func (c *Config) ChainID() int {
	id, err := x402.ChainID(c.Network())
	if err != nil {
		return x402.ChainIDBase
	}
	return id
}
