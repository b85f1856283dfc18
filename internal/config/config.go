package config // package config loads application configuration from environment variables

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; see .env.example for the full list.
type Config struct {
	Env        string // application environment (e.g. "dev", "prod")
	Port       string // HTTP port to listen on
	DBUser     string // database username
	DBPass     string // database password (optional)
	DBHost     string // database host address
	DBPort     string // database port number
	DBName     string // database name
	JWTSecret  string // secret used to sign session tokens
	TokenTTL   time.Duration
	BcryptCost int    // bcrypt cost for password hashing
	Origin     string // browser origin allowed for CORS and websocket upgrades

	Blob   BlobConfig
	Hub    HubConfig
	WS     WSConfig
	Broker string // RabbitMQ URL; empty disables message events
}

// BlobConfig selects where uploaded attachments are written.
type BlobConfig struct {
	Backend   string // "disk" or "s3"
	Dir       string // disk backend root, also served under /uploads
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// HubConfig holds the liveness tunables of the presence core.
type HubConfig struct {
	PingInterval time.Duration
	DeathGrace   time.Duration
}

// WSConfig bounds a single websocket connection.
type WSConfig struct {
	MaxFrameBytes int64
	SendBuffer    int
	InboundBuffer int // frames read but not yet handled
	WriteWait     time.Duration
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log entry, so the global zap
// logger should be installed first.
func Load() Config {
	return Config{
		Env:        envStr("APP_ENV", "dev"),
		Port:       envStr("APP_PORT", "4040"),
		DBUser:     must("DB_USER"),
		DBPass:     os.Getenv("DB_PASS"),
		DBHost:     must("DB_HOST"),
		DBPort:     envStr("DB_PORT", "3306"),
		DBName:     must("DB_NAME"),
		JWTSecret:  must("JWT_SECRET"),
		TokenTTL:   loadTokenTTL(),
		BcryptCost: envInt("BCRYPT_COST", 10),
		Origin:     envStr("CLIENT_ORIGIN", "http://localhost:5173"),
		Blob:       LoadBlobConfig(),
		Hub:        LoadHubConfig(),
		WS:         LoadWSConfig(),
		Broker:     firstEnv("RABBITMQ_URL", "AMQP_URL"),
	}
}

// LoadBlobConfig reads BLOB_* and S3_* variables.
func LoadBlobConfig() BlobConfig {
	return BlobConfig{
		Backend:   envStr("BLOB_BACKEND", "disk"),
		Dir:       envStr("UPLOAD_DIR", "uploads"),
		Bucket:    os.Getenv("S3_BUCKET"),
		Region:    envStr("S3_REGION", "us-east-1"),
		Endpoint:  os.Getenv("S3_ENDPOINT"),
		AccessKey: os.Getenv("S3_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_SECRET_KEY"),
	}
}

// LoadHubConfig reads the probe interval and the grace period after each
// probe.  A connection is evicted after roughly their sum of silence.
func LoadHubConfig() HubConfig {
	c := HubConfig{
		PingInterval: envDur("HUB_PING_INTERVAL", 15*time.Second),
		DeathGrace:   envDur("HUB_DEATH_GRACE", 10*time.Second),
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.DeathGrace <= 0 {
		c.DeathGrace = 10 * time.Second
	}
	return c
}

// LoadWSConfig reads WS_* variables.  Frames carry base64 attachments, so
// the default read limit is generous.
func LoadWSConfig() WSConfig {
	c := WSConfig{
		MaxFrameBytes: int64(envInt("WS_MAX_FRAME_BYTES", 16<<20)),
		SendBuffer:    envInt("WS_SEND_BUFFER", 64),
		InboundBuffer: envInt("WS_INBOUND_BUFFER", 32),
		WriteWait:     envDur("WS_WRITE_WAIT", 10*time.Second),
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 1
	}
	if c.InboundBuffer < 1 {
		c.InboundBuffer = 1
	}
	return c
}

// loadTokenTTL reads TOKEN_TTL_HOURS.  Zero means sessions never expire;
// negative values fall back to the 72h default.
func loadTokenTTL() time.Duration {
	h := envInt("TOKEN_TTL_HOURS", 72)
	if h < 0 {
		zap.S().Warnw("negative TOKEN_TTL_HOURS, using default", "value", h)
		h = 72
	}
	return time.Duration(h) * time.Hour
}

// DSN assembles the go-sql-driver/mysql connection string.
func (c Config) DSN() string {
	auth := c.DBUser
	if c.DBPass != "" {
		auth += ":" + c.DBPass
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	return auth + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=true&loc=UTC"
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		zap.S().Fatalw("missing required env var", "key", key)
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// helpers shared by redis.go, ratelimit.go and cache.go
func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return dur
	}
	return d
}
