package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/straye-as/sports-datalake/internal/secrets"
	"go.uber.org/zap"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Azure      AzureConfig
	Storage    StorageConfig
	Workspace  WorkspaceConfig
	SportsData SportsDataConfig
	Outputs    OutputsConfig
	Secrets    SecretsConfig
	Warehouse  WarehouseConfig
	Schedule   ScheduleConfig
	Logging    LoggingConfig
}

type AppConfig struct {
	Name        string
	Environment string
}

// AzureConfig identifies where resources are provisioned
type AzureConfig struct {
	SubscriptionID string `env:"AZURE_SUBSCRIPTION_ID" validate:"required"`
	ResourceGroup  string `env:"AZURE_RESOURCE_GROUP" validate:"required"`
	Location       string `env:"AZURE_LOCATION" validate:"required"`
}

// StorageConfig describes the storage account and the blob the dataset is written to
type StorageConfig struct {
	AccountName string `env:"AZURE_STORAGE_ACCOUNT" validate:"required"`
	SKU         string
	Kind        string
	// EndpointSuffix is used when building the account connection string
	EndpointSuffix string
	// Mode is "azure" (blob storage) or "local" (filesystem, for dry runs)
	Mode          string `validate:"oneof=azure local"`
	LocalBasePath string
	Container     string `validate:"required"`
	BlobName      string `validate:"required"`
	ContentType   string
}

// WorkspaceConfig describes the Synapse analytics workspace
type WorkspaceConfig struct {
	Name             string `env:"SYNAPSE_WORKSPACE_NAME" validate:"required"`
	Filesystem       string
	SQLAdminLogin    string `env:"SQL_ADMIN_LOGIN" validate:"required"`
	SQLAdminPassword string `env:"SQL_ADMIN_PASSWORD" validate:"required"`
}

type SportsDataConfig struct {
	APIKey string `env:"SPORTS_DATA_API_KEY"`
	// Endpoint is not validated here; a missing or bad endpoint fails the fetch, which is logged and skipped
	Endpoint string `env:"NBA_ENDPOINT"`
	// Timeout is the HTTP client timeout (seconds)
	Timeout int
}

// OutputsConfig controls where the connection string and SQL endpoint are persisted
type OutputsConfig struct {
	// Mode is "envfile" (append to EnvFile) or "vault" (Azure Key Vault)
	Mode    string `validate:"oneof=envfile vault"`
	EnvFile string
}

type SecretsConfig struct {
	// Source determines where secrets are loaded from: "environment", "vault", or "auto"
	// "auto" uses environment in development, vault in staging/production
	Source       string `validate:"oneof=environment vault auto"`
	KeyVaultName string
	CacheEnabled bool
	CacheTTL     int // seconds
}

// WarehouseConfig controls the optional check of the workspace SQL endpoint
type WarehouseConfig struct {
	Verify   bool
	Database string
	// ConnectTimeout is the time allowed for the initial connection and ping (seconds)
	ConnectTimeout int
	QueryTimeout   int
}

// ScheduleConfig enables periodic refresh of the dataset after the initial run
type ScheduleConfig struct {
	// Cron is empty for a one-shot run
	Cron    string
	Timeout int // seconds
}

type LoggingConfig struct {
	Level  string
	Format string
}

// TimeoutDuration returns the HTTP client timeout as duration
func (s *SportsDataConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// ConnectTimeoutDuration returns the connect timeout as duration
func (w *WarehouseConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(w.ConnectTimeout) * time.Second
}

// QueryTimeoutDuration returns query timeout as duration
func (w *WarehouseConfig) QueryTimeoutDuration() time.Duration {
	return time.Duration(w.QueryTimeout) * time.Second
}

// TimeoutDuration returns the per-run timeout of the refresh job as duration
func (s *ScheduleConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// envBindings maps config keys to the environment variable names used by
// existing deployments.
var envBindings = map[string]string{
	"azure.subscriptionId":       "AZURE_SUBSCRIPTION_ID",
	"azure.resourceGroup":        "AZURE_RESOURCE_GROUP",
	"azure.location":             "AZURE_LOCATION",
	"storage.accountName":        "AZURE_STORAGE_ACCOUNT",
	"workspace.name":             "SYNAPSE_WORKSPACE_NAME",
	"workspace.sqlAdminLogin":    "SQL_ADMIN_LOGIN",
	"workspace.sqlAdminPassword": "SQL_ADMIN_PASSWORD",
	"sportsData.apiKey":          "SPORTS_DATA_API_KEY",
	"sportsData.endpoint":        "NBA_ENDPOINT",
	"secrets.keyVaultName":       "AZURE_KEY_VAULT_NAME",
}

// Load loads configuration from file and environment variables
// This is a basic load that doesn't fetch secrets from vault and doesn't validate
// Use LoadWithSecrets for full secret resolution
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override config file
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithSecrets loads configuration, resolves secrets from the configured source
// and validates the result.
// In development (or when secrets.source = "environment"), secrets come from env vars
// In staging/production (or when secrets.source = "vault"), the SQL admin password and the
// sports data API key come from Azure Key Vault unless an env var overrides them
func LoadWithSecrets(ctx context.Context, logger *zap.Logger) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	provider, err := secrets.NewProvider(&secrets.ProviderConfig{
		Source:       secrets.SecretSource(cfg.Secrets.Source),
		VaultName:    cfg.Secrets.KeyVaultName,
		Environment:  cfg.App.Environment,
		CacheEnabled: cfg.Secrets.CacheEnabled,
		CacheTTL:     time.Duration(cfg.Secrets.CacheTTL) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets provider: %w", err)
	}

	if provider.IsVaultEnabled() {
		logger.Info("Loading secrets from Azure Key Vault",
			zap.String("key_vault_name", cfg.Secrets.KeyVaultName),
		)
		resolve := func(ref secrets.Ref, dst *string) {
			value, err := provider.Lookup(ctx, ref)
			if err != nil {
				logger.Warn("Secret not resolved", zap.String("secret_name", ref.Name), zap.Error(err))
				return
			}
			*dst = value
		}
		resolve(secrets.SQLAdminPassword, &cfg.Workspace.SQLAdminPassword)
		resolve(secrets.SportsDataAPIKey, &cfg.SportsData.APIKey)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.SportsData.Endpoint == "" {
		logger.Warn("NBA_ENDPOINT is not set, the fetch will fail and no data will be uploaded")
	}
	if cfg.SportsData.APIKey == "" {
		logger.Warn("SPORTS_DATA_API_KEY is not set, requests will be sent without a subscription key")
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their environment variable name when they have one
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if env := f.Tag.Get("env"); env != "" {
			return env
		}
		return f.Name
	})
	return v
}

// Validate checks that every required setting is present
func (c *Config) Validate() error {
	if c.Outputs.Mode == "vault" && c.Secrets.KeyVaultName == "" {
		return fmt.Errorf("%w: AZURE_KEY_VAULT_NAME must be set when outputs.mode is vault", ErrInvalidConfig)
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, formatValidationError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// ErrInvalidConfig is returned when required configuration is missing or malformed
var ErrInvalidConfig = errors.New("invalid configuration")

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must be set", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Namespace(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "Sports Data Lake")
	v.SetDefault("app.environment", "development")

	// Storage account defaults
	v.SetDefault("storage.sku", "Standard_LRS")
	v.SetDefault("storage.kind", "StorageV2")
	v.SetDefault("storage.endpointSuffix", "core.windows.net")
	v.SetDefault("storage.mode", "azure")
	v.SetDefault("storage.localBasePath", "./datalake")
	v.SetDefault("storage.container", "nba-datalake")
	v.SetDefault("storage.blobName", "raw-data/nba_player_data.jsonl")
	v.SetDefault("storage.contentType", "application/x-ndjson")

	// Workspace defaults
	v.SetDefault("workspace.filesystem", "synapse")

	// Sports data API defaults
	v.SetDefault("sportsData.timeout", 30)

	// Outputs defaults
	v.SetDefault("outputs.mode", "envfile")
	v.SetDefault("outputs.envFile", ".env")

	// Secrets defaults
	v.SetDefault("secrets.source", "auto")
	v.SetDefault("secrets.cacheEnabled", true)
	v.SetDefault("secrets.cacheTTL", 300) // 5 minutes

	// Warehouse defaults (verification disabled)
	v.SetDefault("warehouse.verify", false)
	v.SetDefault("warehouse.database", "master")
	v.SetDefault("warehouse.connectTimeout", 30)
	v.SetDefault("warehouse.queryTimeout", 30)

	// Schedule defaults (one-shot)
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.timeout", 300)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}
