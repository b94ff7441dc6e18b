package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// StoreContextScraping is the store id used for matches that come from a
// generic live scrape rather than a physical store.
const StoreContextScraping = "scraping"

// LogAdapterConfig is one entry of logging.adapters
type LogAdapterConfig struct {
	Name    string                 `yaml:"name"`
	Type    string                 `yaml:"type"`
	Enabled bool                   `yaml:"enabled"`
	Options map[string]interface{} `yaml:"options"`
}

// LoggingConfig configures internal/logging
type LoggingConfig struct {
	Level    string             `yaml:"level"`
	Format   string             `yaml:"format"`
	Adapters []LogAdapterConfig `yaml:"adapters"`
}

// RetailerConfig holds per-retailer overrides
type RetailerConfig struct {
	Enabled   *bool `yaml:"enabled"`
	RateLimit int   `yaml:"rate_limit"` // searches per minute, 0 uses limiter default
}

// Config represents the application configuration
type Config struct {
	Server struct {
		Port           int           `yaml:"port"`
		Host           string        `yaml:"host"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		IdleTimeout    time.Duration `yaml:"idle_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`

	Limiter struct {
		RateLimit        int           `yaml:"rate_limit"` // searches per minute per retailer
		Burst            int           `yaml:"burst"`
		FailureThreshold int           `yaml:"failure_threshold"`
		ResetTimeout     time.Duration `yaml:"reset_timeout"`
	} `yaml:"limiter"`

	BackgroundTasks struct {
		MaxWorkers      int           `yaml:"max_workers"`
		QueueSize       int           `yaml:"queue_size"`
		TaskTimeout     time.Duration `yaml:"task_timeout"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
		MaxTaskAge      time.Duration `yaml:"max_task_age"`
	} `yaml:"background_tasks"`

	Scraper struct {
		Timeout    time.Duration             `yaml:"timeout"`
		Headless   bool                      `yaml:"headless"`
		DebugDir   string                    `yaml:"debug_dir"`
		UserAgents []string                  `yaml:"user_agents"`
		Retailers  map[string]RetailerConfig `yaml:"retailers"`
	} `yaml:"scraper"`

	Browser struct {
		MaxConcurrent int    `yaml:"max_concurrent"`
		ChromePath    string `yaml:"chrome_path"`
		NoSandbox     bool   `yaml:"no_sandbox"`
	} `yaml:"browser"`

	Captcha struct {
		Provider        string        `yaml:"provider"`
		APIKey          string        `yaml:"api_key"`
		Timeout         time.Duration `yaml:"timeout"`
		EnableAutoSolve bool          `yaml:"enable_auto_solve"`
	} `yaml:"captcha"`

	Matcher struct {
		Freshness       time.Duration `yaml:"freshness"`
		CacheTTL        time.Duration `yaml:"cache_ttl"`
		StoreID         string        `yaml:"store_id"`
		DefaultRetailer string        `yaml:"default_retailer"`
	} `yaml:"matcher"`

	Comparison struct {
		Freshness time.Duration `yaml:"freshness"`
		Retailers []string      `yaml:"retailers"`
	} `yaml:"comparison"`

	Cache struct {
		Backend         string        `yaml:"backend"` // redis or memory
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"cache"`

	Redis struct {
		URL      string        `yaml:"url"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"redis"`

	Database struct {
		Driver       string `yaml:"driver"` // sqlite3 or postgres
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"database"`

	Artifacts struct {
		Backend string `yaml:"backend"` // file or spaces
		Spaces  struct {
			Region          string `yaml:"region"`
			BucketName      string `yaml:"bucket_name"`
			AccessKeyID     string `yaml:"access_key_id"`
			AccessKeySecret string `yaml:"access_key_secret"`
			Prefix          string `yaml:"prefix"`
		} `yaml:"spaces"`
	} `yaml:"artifacts"`

	Scheduler struct {
		Enabled            bool   `yaml:"enabled"`
		PopularRefreshCron string `yaml:"popular_refresh_cron"`
		PopularLimit       int    `yaml:"popular_limit"`
	} `yaml:"scheduler"`

	DataDir string        `yaml:"data_dir"`
	Logging LoggingConfig `yaml:"logging"`
}

var (
	bracedEnvVar = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareEnvVar   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars replaces ${VAR} and $VAR with their environment values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	lookup := func(name, original string) string {
		if val := os.Getenv(name); val != "" {
			return val
		}
		return original
	}
	s = bracedEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return lookup(match[2:len(match)-1], match)
	})
	return bareEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return lookup(match[1:], match)
	})
}

// Default returns the configuration used when no file or env overrides apply
func Default() *Config {
	c := &Config{}

	c.Server.Port = 8080
	c.Server.Host = "0.0.0.0"
	c.Server.ReadTimeout = 30 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.IdleTimeout = 60 * time.Second
	c.Server.RequestTimeout = 90 * time.Second

	c.Limiter.RateLimit = 12
	c.Limiter.Burst = 2
	c.Limiter.FailureThreshold = 5
	c.Limiter.ResetTimeout = 5 * time.Minute

	c.BackgroundTasks.MaxWorkers = 4
	c.BackgroundTasks.QueueSize = 100
	c.BackgroundTasks.TaskTimeout = 30 * time.Minute
	c.BackgroundTasks.CleanupInterval = time.Hour
	c.BackgroundTasks.MaxTaskAge = 24 * time.Hour

	c.Scraper.Timeout = 30 * time.Second
	c.Scraper.Headless = true
	c.Scraper.DebugDir = "debug_screenshots"

	c.Browser.MaxConcurrent = 3
	c.Browser.NoSandbox = true

	c.Captcha.Provider = "2captcha"
	c.Captcha.Timeout = 120 * time.Second

	c.Matcher.Freshness = 7 * 24 * time.Hour
	c.Matcher.CacheTTL = time.Hour
	c.Matcher.StoreID = StoreContextScraping
	c.Matcher.DefaultRetailer = "leclerc"

	c.Comparison.Freshness = 24 * time.Hour
	c.Comparison.Retailers = []string{"leclerc", "lidl"}

	c.Cache.Backend = "redis"
	c.Cache.CleanupInterval = 10 * time.Minute

	c.Redis.URL = "redis://localhost:6379"
	c.Redis.Timeout = 5 * time.Second

	c.Database.Driver = "sqlite3"
	c.Database.DSN = "data/panierfacile.db"
	c.Database.MaxOpenConns = 1

	c.Artifacts.Backend = "file"
	c.Artifacts.Spaces.Region = "fra1"
	c.Artifacts.Spaces.Prefix = "debug"

	c.Scheduler.Enabled = true
	c.Scheduler.PopularRefreshCron = "0 0 3 * * *"
	c.Scheduler.PopularLimit = 50

	c.DataDir = "data"

	c.Logging.Level = "info"
	c.Logging.Format = "json"

	return c
}

// LoadConfig loads defaults, then the YAML file (if present), then
// environment overrides, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), config); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	config.loadFromEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	switch c.Artifacts.Backend {
	case "file", "spaces":
	default:
		return fmt.Errorf("unsupported artifacts backend: %s", c.Artifacts.Backend)
	}
	if c.Matcher.Freshness <= 0 || c.Comparison.Freshness <= 0 {
		return fmt.Errorf("freshness windows must be positive")
	}
	if len(c.Comparison.Retailers) != 2 {
		return fmt.Errorf("comparison.retailers must name exactly two retailers, got %d", len(c.Comparison.Retailers))
	}
	if c.Captcha.EnableAutoSolve && c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha auto-solve requires captcha.api_key")
	}
	return nil
}

// RetailerEnabled reports whether a retailer is enabled; retailers
// without an entry are enabled.
func (c *Config) RetailerEnabled(name string) bool {
	rc, ok := c.Scraper.Retailers[strings.ToLower(name)]
	if !ok || rc.Enabled == nil {
		return true
	}
	return *rc.Enabled
}

// RetailerRateLimit returns the per-minute search budget for a retailer
func (c *Config) RetailerRateLimit(name string) int {
	if rc, ok := c.Scraper.Retailers[strings.ToLower(name)]; ok && rc.RateLimit > 0 {
		return rc.RateLimit
	}
	return c.Limiter.RateLimit
}

func (c *Config) loadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		c.Logging.Format = logFormat
	}

	if headless := os.Getenv("HEADLESS"); headless != "" {
		c.Scraper.Headless = parseBool(headless)
	}
	if timeout := os.Getenv("SCRAPER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.Scraper.Timeout = d
		}
	}
	if debugDir := os.Getenv("DEBUG_DIR"); debugDir != "" {
		c.Scraper.DebugDir = debugDir
	}
	if chrome := os.Getenv("CHROME_BIN"); chrome != "" {
		c.Browser.ChromePath = chrome
	}
	if maxBrowsers := os.Getenv("BROWSER_MAX_CONCURRENT"); maxBrowsers != "" {
		if n, err := strconv.Atoi(maxBrowsers); err == nil {
			c.Browser.MaxConcurrent = n
		}
	}

	if captchaAPIKey := os.Getenv("CAPTCHA_API_KEY"); captchaAPIKey != "" {
		c.Captcha.APIKey = captchaAPIKey
	}
	if autoSolve := os.Getenv("CAPTCHA_AUTO_SOLVE"); autoSolve != "" {
		c.Captcha.EnableAutoSolve = parseBool(autoSolve)
	}

	if backend := os.Getenv("CACHE_BACKEND"); backend != "" {
		c.Cache.Backend = backend
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.URL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		c.Redis.Password = redisPassword
	}
	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			c.Redis.DB = db
		}
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}

	if backend := os.Getenv("ARTIFACTS_BACKEND"); backend != "" {
		c.Artifacts.Backend = backend
	}
	if bucket := os.Getenv("BUCKET_NAME"); bucket != "" {
		c.Artifacts.Spaces.BucketName = bucket
	}
	if region := os.Getenv("BUCKET_REGION"); region != "" {
		c.Artifacts.Spaces.Region = region
	}
	if keyID := os.Getenv("BUCKET_ACCESS_KEY_ID"); keyID != "" {
		c.Artifacts.Spaces.AccessKeyID = keyID
	}
	if secret := os.Getenv("BUCKET_ACCESS_KEY_SECRET"); secret != "" {
		c.Artifacts.Spaces.AccessKeySecret = secret
	}

	if enabled := os.Getenv("SCHEDULER_ENABLED"); enabled != "" {
		c.Scheduler.Enabled = parseBool(enabled)
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}
