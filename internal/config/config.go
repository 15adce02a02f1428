package config

import (
	"fmt"
	"github.com/datagovtools/porter/pkg/logx"
	"github.com/datagovtools/porter/pkg/sniff"
	"github.com/spf13/viper"
	"os"
)

// Config holds the global configuration for the application.
type Config struct {
	// Log contains logging-related configuration.
	Log *logx.LoggingConfig
	// Catalog contains the catalog API configuration.
	Catalog *CatalogConfig
	// Storage contains the object store configuration.
	Storage *StorageConfig
	// Migration contains the migration run configuration.
	Migration *MigrationConfig
	// Profiling contains the runtime profiling configuration.
	Profiling *sniff.ProfilingConfig
}

// CatalogConfig holds the configuration for the catalog API.
type CatalogConfig struct {
	// BaseURL is the root URL of the catalog, e.g. "https://data.example.org".
	BaseURL string
	// APIKey is the name of the environment variable holding the API key.
	APIKey string
	// Timeout is the request timeout (e.g., "30s").
	Timeout string
}

// StorageConfig holds the configuration for the object store.
type StorageConfig struct {
	// S3 contains the S3 bucket configuration.
	S3 *BucketConfig
	// Retry contains the retry configuration.
	Retry *RetryConfig
}

// BucketConfig holds the configuration for an S3 bucket.
type BucketConfig struct {
	// Bucket is the name of the bucket.
	Bucket string
	// Region is the region of the bucket.
	Region string
	// Prefix is the prefix for resource objects in the bucket.
	Prefix string
	// Endpoint is the endpoint for the bucket.
	Endpoint string
	// AccessKey is the name of the environment variable holding the access key.
	AccessKey string
	// SecretKey is the name of the environment variable holding the secret key.
	SecretKey string
	// UseSSL enables SSL for the bucket connection.
	UseSSL bool
}

// RetryConfig holds the configuration for retrying failed operations.
type RetryConfig struct {
	// Limit is the maximum number of retry attempts.
	Limit int
}

// MigrationConfig holds the configuration for a migration run.
type MigrationConfig struct {
	// ExcludedFormats is a whitespace-separated list of file formats that
	// must never be migrated, matched case-insensitively.
	ExcludedFormats string
	// Workers is the number of datasets processed concurrently.
	Workers int
	// ArchivePrefix is the prefix for dataset archives in the bucket.
	ArchivePrefix string
}

var config = Config{
	Log: &logx.LoggingConfig{
		Level:          "Info",
		ConsoleLogging: true,
		FileLogging:    false,
	},
}

// Initialize loads the configuration from the specified file.
//
// Parameters:
//   - path: The path to the configuration file.
//
// Returns:
//   - An error if the configuration cannot be loaded.
func Initialize(path string) error {
	viper.Reset()
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("porter")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	initializeNestedStructs()
	overrideWithEnvVars()

	return nil
}

// initializeNestedStructs ensures all nested structs are initialized.
func initializeNestedStructs() {
	if config.Log == nil {
		config.Log = &logx.LoggingConfig{
			Level:          "Info",
			ConsoleLogging: true,
		}
	}
	if config.Catalog == nil {
		config.Catalog = &CatalogConfig{}
	}
	if config.Storage == nil {
		config.Storage = &StorageConfig{}
	}
	if config.Storage.S3 == nil {
		config.Storage.S3 = &BucketConfig{}
	}
	if config.Storage.Retry == nil {
		config.Storage.Retry = &RetryConfig{}
	}
	if config.Migration == nil {
		config.Migration = &MigrationConfig{}
	}
	if config.Profiling == nil {
		config.Profiling = &sniff.ProfilingConfig{}
	}
}

// overrideWithEnvVars overrides sensitive fields with environment variables if set.
func overrideWithEnvVars() {
	if config.Catalog.APIKey != "" {
		config.Catalog.APIKey = os.Getenv(config.Catalog.APIKey)
	}
	if config.Storage.S3.AccessKey != "" {
		config.Storage.S3.AccessKey = os.Getenv(config.Storage.S3.AccessKey)
	}
	if config.Storage.S3.SecretKey != "" {
		config.Storage.S3.SecretKey = os.Getenv(config.Storage.S3.SecretKey)
	}
}

// Get returns the loaded configuration.
//
// Returns:
//   - The global configuration.
func Get() Config {
	return config
}
