package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the tool server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Upscaling UpscalingConfig
	Output    OutputConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// BootstrapAdminKey, when set, is stored as an admin API key at startup.
	BootstrapAdminKey string
	RequestsPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// UpscalingConfig configures the remote image job service. ClientID is the
// session credential sent with every call. Tools only read source images
// from inside InputDir.
type UpscalingConfig struct {
	BaseURL         string
	InputDir        string
	ClientID        string
	CallTimeout     time.Duration
	PollInterval    time.Duration
	PollJitter      time.Duration
	RemoveBGMaxPoll int
	UpscaleMaxPoll  int
	KeyStrategy     string
}

type OutputConfig struct {
	Backend  string
	LocalDir string
	S3       S3Config
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

var validKeyStrategies = map[string]bool{
	"stem":  true,
	"token": true,
}

var validBackends = map[string]bool{
	"local": true,
	"s3":    true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("MCP_PORT", 3100),
			Env:               envString("MCP_ENV", "development"),
			BootstrapAdminKey: os.Getenv("MCP_ADMIN_KEY"),
			RequestsPerMinute: envInt("MCP_REQUESTS_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Upscaling: UpscalingConfig{
			BaseURL:         strings.TrimRight(envString("UPSCALING_BASE_URL", "https://image-upscaling.net"), "/"),
			ClientID:        os.Getenv("CLIENT_ID"),
			InputDir:        envString("INPUT_DIR", filepath.Join(os.TempDir(), "mcp-input")),
			CallTimeout:     envDuration("UPSCALING_CALL_TIMEOUT", 30*time.Second),
			PollInterval:    envDuration("UPSCALING_POLL_INTERVAL", 2*time.Second),
			PollJitter:      envDuration("UPSCALING_POLL_JITTER", 0),
			RemoveBGMaxPoll: envInt("REMOVEBG_MAX_ATTEMPTS", 30),
			UpscaleMaxPoll:  envInt("UPSCALE_MAX_ATTEMPTS", 60),
			KeyStrategy:     envString("CORRELATION_KEY_STRATEGY", "token"),
		},
		Output: OutputConfig{
			Backend:  envString("OUTPUT_BACKEND", "local"),
			LocalDir: envString("OUTPUT_DIR", os.TempDir()),
			S3: S3Config{
				Endpoint:  os.Getenv("S3_ENDPOINT"),
				AccessKey: os.Getenv("S3_ACCESS_KEY"),
				SecretKey: os.Getenv("S3_SECRET_KEY"),
				Bucket:    os.Getenv("S3_BUCKET"),
				Prefix:    envString("S3_PREFIX", "artifacts"),
				UseSSL:    envBool("S3_USE_SSL", false),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Upscaling.ClientID == "" {
		return fmt.Errorf("CLIENT_ID is required")
	}
	if !strings.HasPrefix(c.Upscaling.BaseURL, "http://") && !strings.HasPrefix(c.Upscaling.BaseURL, "https://") {
		return fmt.Errorf("UPSCALING_BASE_URL must start with http:// or https://, got %q", c.Upscaling.BaseURL)
	}
	if c.Upscaling.PollInterval <= 0 {
		return fmt.Errorf("UPSCALING_POLL_INTERVAL must be positive, got %s", c.Upscaling.PollInterval)
	}
	if c.Upscaling.PollJitter < 0 || c.Upscaling.PollJitter >= c.Upscaling.PollInterval {
		return fmt.Errorf("UPSCALING_POLL_JITTER must be at least 0 and below UPSCALING_POLL_INTERVAL, got %s", c.Upscaling.PollJitter)
	}
	if c.Upscaling.CallTimeout <= 0 {
		return fmt.Errorf("UPSCALING_CALL_TIMEOUT must be positive, got %s", c.Upscaling.CallTimeout)
	}
	if c.Upscaling.RemoveBGMaxPoll <= 0 || c.Upscaling.UpscaleMaxPoll <= 0 {
		return fmt.Errorf("REMOVEBG_MAX_ATTEMPTS and UPSCALE_MAX_ATTEMPTS must be positive")
	}
	if !filepath.IsAbs(c.Upscaling.InputDir) {
		return fmt.Errorf("INPUT_DIR must be an absolute path, got %q", c.Upscaling.InputDir)
	}
	if !validKeyStrategies[c.Upscaling.KeyStrategy] {
		return fmt.Errorf("CORRELATION_KEY_STRATEGY must be one of stem, token; got %q", c.Upscaling.KeyStrategy)
	}

	if !validBackends[c.Output.Backend] {
		return fmt.Errorf("OUTPUT_BACKEND must be one of local, s3; got %q", c.Output.Backend)
	}
	if c.Output.Backend == "s3" {
		if c.Output.S3.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when OUTPUT_BACKEND is s3")
		}
		if c.Output.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when OUTPUT_BACKEND is s3")
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}
