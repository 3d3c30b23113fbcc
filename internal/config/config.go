// Package config provides YAML-based configuration for the ingestion server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration document.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Remote   RemoteConfig   `yaml:"remote"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Import   ImportConfig   `yaml:"import"`
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bind_address"`
	EnableCORS   bool   `yaml:"enable_cors"`
	AllowOrigins string `yaml:"allow_origins"`
	ReadTimeout  int    `yaml:"read_timeout_seconds"`
	WriteTimeout int    `yaml:"write_timeout_seconds"`
	IdleTimeout  int    `yaml:"idle_timeout_seconds"`
	BodyLimit    string `yaml:"body_limit"`
}

// StorageConfig contains local staging settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
}

// RemoteConfig selects and configures the object store artifacts are handed to.
type RemoteConfig struct {
	Backend        string `yaml:"backend"` // cloudinary, minio or local
	BaseURL        string `yaml:"base_url"`
	CloudName      string `yaml:"cloud_name"`
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	Folder         string `yaml:"folder"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MinIOConfig configures the S3-compatible backend.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig contains relational store settings
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // duckdb or mysql
	URL          string `yaml:"url"`    // duckdb file path or mysql DSN
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// IngestConfig contains completion pipeline settings
type IngestConfig struct {
	CompletionTimeoutSeconds int `yaml:"completion_timeout_seconds"`
	StateRetentionMinutes    int `yaml:"state_retention_minutes"`
	CleanupIntervalMinutes   int `yaml:"cleanup_interval_minutes"`
	EventBufferSize          int `yaml:"event_buffer_size"`
}

// ImportConfig contains bulk import defaults
type ImportConfig struct {
	TotalRows       int64  `yaml:"total_rows"`
	BatchSize       int64  `yaml:"batch_size"`
	Concurrency     int    `yaml:"concurrency"`
	ContinueOnError bool   `yaml:"continue_on_error"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	Password        string `yaml:"password"`
	BcryptCost      int    `yaml:"bcrypt_cost"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `yaml:"log_level"`
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
	DuckDBThreads        int    `yaml:"duckdb_threads"`
	DuckDBMemoryLimit    string `yaml:"duckdb_memory_limit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8000,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  60,
			WriteTimeout: 300,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads",
		},
		Remote: RemoteConfig{
			Backend:        "local",
			BaseURL:        "https://api.cloudinary.com",
			Folder:         "uploads",
			TimeoutSeconds: 120,
		},
		MinIO: MinIOConfig{
			Endpoint: "localhost:9000",
			Bucket:   "documents",
		},
		Database: DatabaseConfig{
			Driver:       "duckdb",
			URL:          "./data/ingest.duckdb",
			MaxOpenConns: 10,
			MaxIdleConns: 10,
		},
		Ingest: IngestConfig{
			CompletionTimeoutSeconds: 300,
			StateRetentionMinutes:    60,
			CleanupIntervalMinutes:   5,
			EventBufferSize:          256,
		},
		Import: ImportConfig{
			TotalRows:       10_000_000,
			BatchSize:       10_000,
			Concurrency:     16,
			ContinueOnError: true,
			TimeoutSeconds:  3600,
			Password:        "123456",
			BcryptCost:      10,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        4,
			DuckDBMemoryLimit:    "1GB",
		},
	}
}

// LoadConfig loads configuration from a YAML file, writing the defaults
// there first when it does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Keys missing from the file keep their defaults.
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save writes the configuration as YAML
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Document ingestion server configuration\n# This file is auto-generated on first run\n\n")
	if err := os.WriteFile(configPath, append(header, output...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}

	// Supplying Cloudinary credentials switches the backend on.
	if v := os.Getenv("CLOUDINARY_CLOUD_NAME"); v != "" {
		c.Remote.CloudName = v
		c.Remote.Backend = "cloudinary"
	}
	if v := os.Getenv("CLOUDINARY_API_KEY"); v != "" {
		c.Remote.APIKey = v
	}
	if v := os.Getenv("CLOUDINARY_API_SECRET"); v != "" {
		c.Remote.APISecret = v
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
	// Only file-backed DuckDB URLs are paths; "" stays in-memory.
	if c.Database.Driver == "duckdb" && c.Database.URL != "" && !filepath.IsAbs(c.Database.URL) {
		c.Database.URL = filepath.Join(configDir, c.Database.URL)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// CompletionTimeout is the deadline for one upload completion.
func (c *AppConfig) CompletionTimeout() time.Duration {
	return time.Duration(c.Ingest.CompletionTimeoutSeconds) * time.Second
}

// ImportTimeout is the deadline for one bulk import run.
func (c *AppConfig) ImportTimeout() time.Duration {
	return time.Duration(c.Import.TimeoutSeconds) * time.Second
}

// RemoteTimeout is the HTTP timeout for one remote upload attempt.
func (c *AppConfig) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	if c.Database.Driver == "duckdb" && c.Database.URL != "" {
		dirs = append(dirs, filepath.Dir(c.Database.URL))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
