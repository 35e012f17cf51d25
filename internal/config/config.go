// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// General context providers selectable from the environment
const (
	GeneralProviderNone        = ""
	GeneralProviderNull        = "null"
	GeneralProviderPassthrough = "passthrough"
)

const defaultSecretKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	SecretKey   string   `mapstructure:"secretkey"`
	APIToken    string   `mapstructure:"apitoken"`

	// File paths
	DatabasePath     string `mapstructure:"storagepath"`
	DatabaseName     string `mapstructure:"-"` // Derived from other settings
	DeclarationsPath string `mapstructure:"declarationspath"`
	PublicDirectory  string `mapstructure:"publicdir"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Remote platform
	Account               string `mapstructure:"account"`
	Password              string `mapstructure:"password"`
	BaseURI               string `mapstructure:"baseuri"`
	GatewayTimeoutSeconds int    `mapstructure:"gatewaytimeoutseconds"`
	GatewayMaxAttempts    int    `mapstructure:"gatewaymaxattempts"`

	// Triggering
	GeneralProvider string `mapstructure:"generalprovider"`

	// Job scheduling settings
	SyncIntervalSeconds int `mapstructure:"syncintervalseconds"`

	// Data retention settings
	InstanceRetentionDays int `mapstructure:"instanceretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "emarsync")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("secretkey", defaultSecretKey)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("declarationspath", "config/declarations.yaml")
		v.SetDefault("publicdir", "public")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("baseuri", "https://api.emarsys.net")
		v.SetDefault("gatewaytimeoutseconds", 30)
		v.SetDefault("gatewaymaxattempts", 3)
		v.SetDefault("generalprovider", GeneralProviderNone)
		v.SetDefault("syncintervalseconds", 3600)
		v.SetDefault("instanceretentiondays", 180)

		v.BindEnv("appname", "EMARSYNC_APP_NAME")
		v.BindEnv("appport", "EMARSYNC_APP_PORT")
		v.BindEnv("environment", "EMARSYNC_ENV")
		v.BindEnv("loglevel", "EMARSYNC_LOG_LEVEL")
		v.BindEnv("secretkey", "EMARSYNC_SECRET_KEY")
		v.BindEnv("apitoken", "EMARSYNC_API_TOKEN")
		v.BindEnv("storagepath", "EMARSYNC_STORAGE_PATH")
		v.BindEnv("declarationspath", "EMARSYNC_DECLARATIONS_PATH")
		v.BindEnv("publicdir", "EMARSYNC_PUBLIC_DIR")
		v.BindEnv("logsdir", "EMARSYNC_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "EMARSYNC_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "EMARSYNC_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "EMARSYNC_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "EMARSYNC_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "EMARSYNC_DB_MAX_IDLE_CONNS")
		v.BindEnv("account", "EMARSYS_ACCOUNT")
		v.BindEnv("password", "EMARSYS_PASSWORD")
		v.BindEnv("baseuri", "EMARSYS_BASE_URI")
		v.BindEnv("gatewaytimeoutseconds", "EMARSYNC_GATEWAY_TIMEOUT_SECONDS")
		v.BindEnv("gatewaymaxattempts", "EMARSYNC_GATEWAY_MAX_ATTEMPTS")
		v.BindEnv("generalprovider", "EMARSYNC_GENERAL_PROVIDER")
		v.BindEnv("syncintervalseconds", "EMARSYNC_SYNC_INTERVAL_SECONDS")
		v.BindEnv("instanceretentiondays", "EMARSYNC_INSTANCE_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.SecretKey == defaultSecretKey {
			log.Fatal("Production requires a unique EMARSYNC_SECRET_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validProviders := map[string]bool{
		GeneralProviderNone:        true,
		GeneralProviderNull:        true,
		GeneralProviderPassthrough: true,
	}
	if !validProviders[c.GeneralProvider] {
		return fmt.Errorf("invalid general provider: %s", c.GeneralProvider)
	}

	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required")
	}
	if c.GatewayMaxAttempts < 1 {
		return fmt.Errorf("gateway max attempts must be at least 1, got %d", c.GatewayMaxAttempts)
	}
	if c.SyncIntervalSeconds < 0 || c.InstanceRetentionDays < 0 {
		return fmt.Errorf("sync interval and retention must not be negative")
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return "/"
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.SecretKey
}

// GetMaxOpenConns returns the MaxOpenConns value, 1 in test unless set explicitly.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the MaxIdleConns value, 1 in test unless set explicitly.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetGatewayTimeout returns the per-request timeout for remote platform calls.
func (c *Config) GetGatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// GetSyncInterval returns how often events are synchronized; zero disables the job.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
