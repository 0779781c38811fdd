package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// this is a pointer so that if someone attempts to use it before loading it will
// panic and force them to load it first.
// it is also private so that it cannot be modified after loading.
var _loaded *Config

// Config is the main configuration structure
type Config struct {
	Common Common `yaml:"common"`
}

// Load loads the configuration following proper precedence: defaults → config file → environment variables
func Load() {
	LoadDefault()

	configFile := os.Getenv("CHATPPT_CONFIG_FILE")
	if configFile == "" {
		configFile = "chatppt.yaml"
	}

	if err := LoadFromFile(configFile); err != nil {
		log.Printf("Failed to load config file: %v, using defaults", err)
	} else {
		log.Printf("Successfully loaded config from file: %s", configFile)
	}

	// Environment variables have the highest priority
	ApplyEnvOverrides()

	log.Printf("Final config - backend: %s (%s), storage: %s",
		_loaded.Common.Backend.BaseURL,
		_loaded.Common.Backend.Mode,
		_loaded.Common.Storage.Driver)
}

func LoadDefault() {
	config := defaultConfig
	_loaded = &config
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults
	cfg := defaultConfig

	// Merge YAML values over defaults
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	_loaded = &cfg
	return nil
}

// Validate checks enumerated values that the rest of the program switches on.
func (c *Config) Validate() error {
	switch c.Common.Backend.Mode {
	case BackendModeStream, BackendModePoll:
	default:
		return fmt.Errorf("invalid backend mode %q: must be %q or %q", c.Common.Backend.Mode, BackendModeStream, BackendModePoll)
	}

	switch c.Common.Storage.Driver {
	case StorageMemory, StorageFile, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("invalid storage driver %q", c.Common.Storage.Driver)
	}

	if c.Common.Export.PollIntervalMs <= 0 || c.Common.Backend.PollIntervalMs <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	return nil
}

const (
	BackendModeStream = "stream"
	BackendModePoll   = "poll"

	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// set sane defaults for all of the config options. when loading the config from
// the file, any options that are not set will be set to these defaults.
var defaultConfig = Config{
	Common: Common{
		Log: logConfig{
			Level:  "info",
			Format: "json",
		},
		Http: httpConfig{
			Host:           "127.0.0.1",
			Port:           8090,
			MaxRequestSize: 20971520,
		},
		Backend: backendConfig{
			BaseURL:               "http://localhost:8000",
			Mode:                  BackendModeStream,
			RequestTimeoutSeconds: 30,
			PollIntervalMs:        2000,
		},
		Export: exportConfig{
			PollIntervalMs: 2000,
			DownloadDir:    "downloads",
		},
		Storage: storageConfig{
			Driver:  StorageFile,
			FileDir: ".chatppt",
		},
		Postgres: postgresConfig{
			postgresConfigCommon: postgresConfigCommon{
				User:               "postgres",
				Password:           "postgres",
				Host:               "localhost",
				Port:               5432,
				Database:           "chatppt",
				SchemaName:         "public",
				ReadTimeout:        30,
				WriteTimeout:       30,
				MaxOpenConnections: 10,
			},
		},
		Redis: redisConfig{
			Host:      "localhost",
			Port:      6379,
			Password:  "",
			Database:  0,
			KeyPrefix: "chatppt_",
		},
	},
}

type Common struct {
	Log      logConfig      `yaml:"log"`
	Http     httpConfig     `yaml:"http"`
	Backend  backendConfig  `yaml:"backend"`
	Export   exportConfig   `yaml:"export"`
	Storage  storageConfig  `yaml:"storage"`
	Postgres postgresConfig `yaml:"postgres"`
	Redis    redisConfig    `yaml:"redis"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type httpConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxRequestSize int64  `yaml:"max_request_size"`
}

type backendConfig struct {
	BaseURL               string `yaml:"base_url"`
	Mode                  string `yaml:"mode"` // "stream" or "poll"
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	PollIntervalMs        int    `yaml:"poll_interval_ms"` // poll mode generation only
}

func (c backendConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c backendConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

type exportConfig struct {
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	DownloadDir    string `yaml:"download_dir"`
}

func (c exportConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

type storageConfig struct {
	Driver  string `yaml:"driver"`   // memory, file, postgres or redis
	FileDir string `yaml:"file_dir"` // used by the file driver
}

type postgresConfigCommon struct {
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Database           string `yaml:"database"`
	SchemaName         string `yaml:"schema_name"`
	ReadTimeout        int    `yaml:"read_timeout"`
	WriteTimeout       int    `yaml:"write_timeout"`
	MaxOpenConnections int    `yaml:"max_open_connections"`
}

func (c postgresConfigCommon) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
	)
}

type postgresConfig struct {
	postgresConfigCommon `yaml:",inline"`
}

type redisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	Database  int    `yaml:"database"`
	KeyPrefix string `yaml:"key_prefix"`
}

func (c redisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// there should be a getter for each top level field in the config struct.
// these getters will panic if the config has not been loaded.

func Logger() logConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Log
}

func Http() httpConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Http
}

func Backend() backendConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Backend
}

func Export() exportConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Export
}

func Storage() storageConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Storage
}

func Postgres() postgresConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Postgres
}

func Redis() redisConfig {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded.Common.Redis
}

// Get returns the full configuration
func Get() *Config {
	if _loaded == nil {
		panic("config not loaded - call Load() first")
	}
	return _loaded
}

func ApplyEnvOverrides() {
	if _loaded == nil {
		return
	}

	if level := os.Getenv("CHATPPT_LOG_LEVEL"); level != "" {
		_loaded.Common.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("CHATPPT_LOG_FORMAT"); format != "" {
		_loaded.Common.Log.Format = strings.ToLower(format)
	}

	if httpHost := os.Getenv("CHATPPT_HTTP_HOST"); httpHost != "" {
		_loaded.Common.Http.Host = httpHost
	}
	if httpPort := os.Getenv("CHATPPT_HTTP_PORT"); httpPort != "" {
		if port, err := strconv.Atoi(httpPort); err == nil {
			_loaded.Common.Http.Port = port
		}
	}

	if baseURL := os.Getenv("CHATPPT_BACKEND_URL"); baseURL != "" {
		_loaded.Common.Backend.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if mode := os.Getenv("CHATPPT_BACKEND_MODE"); mode == BackendModeStream || mode == BackendModePoll {
		_loaded.Common.Backend.Mode = mode
	}
	if timeout := os.Getenv("CHATPPT_BACKEND_TIMEOUT"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil && secs > 0 {
			_loaded.Common.Backend.RequestTimeoutSeconds = secs
		}
	}

	if interval := os.Getenv("CHATPPT_EXPORT_POLL_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil && ms > 0 {
			_loaded.Common.Export.PollIntervalMs = ms
		}
	}
	if dir := os.Getenv("CHATPPT_DOWNLOAD_DIR"); dir != "" {
		_loaded.Common.Export.DownloadDir = dir
	}

	if driver := os.Getenv("CHATPPT_STORAGE_DRIVER"); driver != "" {
		_loaded.Common.Storage.Driver = driver
	}
	if dir := os.Getenv("CHATPPT_STORAGE_DIR"); dir != "" {
		_loaded.Common.Storage.FileDir = dir
	}

	if dbHost := os.Getenv("CHATPPT_DB_HOST"); dbHost != "" {
		_loaded.Common.Postgres.Host = dbHost
	}
	if dbPort := os.Getenv("CHATPPT_DB_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			_loaded.Common.Postgres.Port = port
		}
	}
	if dbUser := os.Getenv("CHATPPT_DB_USER"); dbUser != "" {
		_loaded.Common.Postgres.User = dbUser
	}
	if dbPassword := os.Getenv("CHATPPT_DB_PASSWORD"); dbPassword != "" {
		_loaded.Common.Postgres.Password = dbPassword
	}
	if dbName := os.Getenv("CHATPPT_DB_NAME"); dbName != "" {
		_loaded.Common.Postgres.Database = dbName
	}

	if redisHost := os.Getenv("CHATPPT_REDIS_HOST"); redisHost != "" {
		_loaded.Common.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("CHATPPT_REDIS_PORT"); redisPort != "" {
		if port, err := strconv.Atoi(redisPort); err == nil {
			_loaded.Common.Redis.Port = port
		}
	}
	if redisPassword := os.Getenv("CHATPPT_REDIS_PASSWORD"); redisPassword != "" {
		_loaded.Common.Redis.Password = redisPassword
	}
}
