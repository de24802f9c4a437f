package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yodel/yodel-go/internal/extractor"
	"github.com/yodel/yodel-go/internal/monitoring"
)

// EnvPrefix prefixes every environment override, e.g. YODEL_DOWNLOAD_FORMAT
const EnvPrefix = "YODEL"

// Config represents the application configuration
type Config struct {
	Download  DownloadConfig  `json:"download" mapstructure:"download"`
	Extractor ExtractorConfig `json:"extractor" mapstructure:"extractor"`
	Storage   StorageConfig   `json:"storage" mapstructure:"storage"`
	Reconcile ReconcileConfig `json:"reconcile" mapstructure:"reconcile"`
	Server    ServerConfig    `json:"server" mapstructure:"server"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	OutputDir                  string `json:"output_dir" mapstructure:"output_dir"`
	Format                     string `json:"format" mapstructure:"format"`
	EnableTagging              bool   `json:"enable_tagging" mapstructure:"enable_tagging"`
	ArtworkSize                int    `json:"artwork_size" mapstructure:"artwork_size"`
	Workers                    int    `json:"workers" mapstructure:"workers"`
	ErrorReports               bool   `json:"error_reports" mapstructure:"error_reports"`
	ErrorReportIntervalSeconds int    `json:"error_report_interval_seconds" mapstructure:"error_report_interval_seconds"`
}

// ExtractorConfig contains settings for the external extractor process
type ExtractorConfig struct {
	Binary         string `json:"binary" mapstructure:"binary"`
	FFmpegBinary   string `json:"ffmpeg_binary" mapstructure:"ffmpeg_binary"`
	CacheDir       string `json:"cache_dir" mapstructure:"cache_dir"`
	Attempts       int    `json:"attempts" mapstructure:"attempts"`
	RetryBackoffMS int    `json:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	MaxBackoffMS   int    `json:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	TLSRelaxed     bool   `json:"tls_relaxed" mapstructure:"tls_relaxed"`
	VideoIDOnly    bool   `json:"video_id_only" mapstructure:"video_id_only"`
	Verbose        bool   `json:"verbose" mapstructure:"verbose"`
	SelfUpdate     bool   `json:"self_update" mapstructure:"self_update"`
	Overwrite      bool   `json:"overwrite" mapstructure:"overwrite"`
}

// StorageConfig contains database and file store locations
type StorageConfig struct {
	DataDir      string `json:"data_dir" mapstructure:"data_dir"`
	DatabasePath string `json:"database_path" mapstructure:"database_path"`
	CoverDir     string `json:"cover_dir" mapstructure:"cover_dir"`
	TempDir      string `json:"temp_dir" mapstructure:"temp_dir"`
	KeySecret    string `json:"key_secret" mapstructure:"key_secret"`
}

// ReconcileConfig controls the missing-file check
type ReconcileConfig struct {
	IntervalSeconds int  `json:"interval_seconds" mapstructure:"interval_seconds"`
	Watch           bool `json:"watch" mapstructure:"watch"`
}

// ServerConfig controls the HTTP control API
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := v.WriteConfigAs(configPath); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// isNotFound reports a missing config file. SetConfigFile makes viper return
// the raw os error rather than ConfigFileNotFoundError.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// applyDerived fills locations left empty from the data directory
func (c *Config) applyDerived() {
	dataDir := c.Storage.DataDir
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(dataDir, "yodel.db")
	}
	if c.Storage.CoverDir == "" {
		c.Storage.CoverDir = filepath.Join(dataDir, "cover_store")
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = filepath.Join(dataDir, "tmp")
	}
	if c.Extractor.CacheDir == "" {
		c.Extractor.CacheDir = filepath.Join(dataDir, "cache")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(dataDir, "logs", "yodel.log")
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Download.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	if _, err := extractor.ParseFormat(c.Download.Format); err != nil {
		return err
	}

	if c.Download.Workers < 1 || c.Download.Workers > 8 {
		return fmt.Errorf("workers must be between 1 and 8")
	}

	if c.Download.ArtworkSize < 100 || c.Download.ArtworkSize > 5000 {
		return fmt.Errorf("artwork size must be between 100 and 5000 pixels")
	}

	if c.Download.ErrorReportIntervalSeconds < 0 {
		return fmt.Errorf("error report interval cannot be negative")
	}

	if c.Extractor.Binary == "" {
		return fmt.Errorf("extractor binary cannot be empty")
	}

	if c.Extractor.Attempts < 1 {
		return fmt.Errorf("extractor attempts must be at least 1")
	}

	if c.Extractor.RetryBackoffMS < 0 || c.Extractor.MaxBackoffMS < 0 {
		return fmt.Errorf("extractor backoff cannot be negative")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Reconcile.IntervalSeconds < 0 {
		return fmt.Errorf("reconcile interval cannot be negative")
	}

	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("server listen address cannot be empty when the server is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("download", c.Download)
	v.Set("extractor", c.Extractor)
	v.Set("storage", c.Storage)
	v.Set("reconcile", c.Reconcile)
	v.Set("server", c.Server)
	v.Set("logging", c.Logging)

	return v.WriteConfigAs(path)
}

// ExtractorSettings converts the extractor section for the client
func (c *Config) ExtractorSettings() (extractor.Config, error) {
	format, err := extractor.ParseFormat(c.Download.Format)
	if err != nil {
		return extractor.Config{}, err
	}
	return extractor.Config{
		Binary:         c.Extractor.Binary,
		FFmpegBinary:   c.Extractor.FFmpegBinary,
		CacheDir:       c.Extractor.CacheDir,
		Format:         format,
		Attempts:       c.Extractor.Attempts,
		InitialBackoff: time.Duration(c.Extractor.RetryBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(c.Extractor.MaxBackoffMS) * time.Millisecond,
		TLSRelaxed:     c.Extractor.TLSRelaxed,
		VideoIDOnly:    c.Extractor.VideoIDOnly,
		Verbose:        c.Extractor.Verbose,
		SelfUpdate:     c.Extractor.SelfUpdate,
		Overwrite:      c.Extractor.Overwrite,
	}, nil
}

// LogSettings converts the logging section for the logger
func (c *Config) LogSettings() *monitoring.LogConfig {
	return &monitoring.LogConfig{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// ReconcileInterval returns the periodic reconciliation interval; zero disables it
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalSeconds) * time.Second
}

// ErrorReportInterval returns the minimum gap between two error reports
func (c *Config) ErrorReportInterval() time.Duration {
	return time.Duration(c.Download.ErrorReportIntervalSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("download.output_dir", getDefaultDownloadDir())
	v.SetDefault("download.format", extractor.DefaultFormat.Name)
	v.SetDefault("download.enable_tagging", true)
	v.SetDefault("download.artwork_size", 1200)
	v.SetDefault("download.workers", 1)
	v.SetDefault("download.error_reports", true)
	v.SetDefault("download.error_report_interval_seconds", 60)

	v.SetDefault("extractor.binary", "yt-dlp")
	v.SetDefault("extractor.ffmpeg_binary", "ffmpeg")
	v.SetDefault("extractor.cache_dir", "")
	v.SetDefault("extractor.attempts", extractor.DefaultAttempts)
	v.SetDefault("extractor.retry_backoff_ms", 1000)
	v.SetDefault("extractor.max_backoff_ms", 30000)
	v.SetDefault("extractor.tls_relaxed", false)
	v.SetDefault("extractor.video_id_only", false)
	v.SetDefault("extractor.verbose", false)
	v.SetDefault("extractor.self_update", false)
	v.SetDefault("extractor.overwrite", true)

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.cover_dir", "")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.key_secret", "")

	v.SetDefault("reconcile.interval_seconds", 300)
	v.SetDefault("reconcile.watch", true)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", "127.0.0.1:8787")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "both")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

func homeDir() string {
	if h := os.Getenv("APPDATA"); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func getDefaultDownloadDir() string {
	return filepath.Join(homeDir(), "Music", "yodel")
}

func ensureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if dir := os.Getenv(EnvPrefix + "_HOME"); dir != "" {
		return dir
	}
	if IsPortableMode() {
		exePath, err := os.Executable()
		if err != nil {
			return "."
		}
		return filepath.Dir(exePath)
	}
	return filepath.Join(homeDir(), ".yodel")
}

// IsPortableMode checks for a .portable marker next to the executable
func IsPortableMode() bool {
	exePath, err := os.Executable()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(filepath.Dir(exePath), ".portable"))
	return err == nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}
