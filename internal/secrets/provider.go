package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"go.uber.org/zap"
)

// SecretSource defines where secrets are loaded from
type SecretSource string

const (
	// SourceEnvironment loads secrets from environment variables
	SourceEnvironment SecretSource = "environment"
	// SourceVault loads secrets from Azure Key Vault
	SourceVault SecretSource = "vault"
	// SourceAuto uses vault outside development, environment in development
	SourceAuto SecretSource = "auto"
)

// ErrSecretNotFound is returned when a secret is in neither the environment nor the vault
var ErrSecretNotFound = errors.New("secret not found")

// Ref names one secret in both places it can live
type Ref struct {
	// Name is the Key Vault secret name
	Name string
	// Env is the environment variable that overrides the vault
	Env string
}

var (
	SQLAdminPassword = Ref{Name: "sql-admin-password", Env: "SQL_ADMIN_PASSWORD"}
	SportsDataAPIKey = Ref{Name: "sports-data-api-key", Env: "SPORTS_DATA_API_KEY"}
)

// Reader reads a secret by vault name
type Reader interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// Provider resolves secrets from the environment first and the vault second
type Provider struct {
	source SecretSource
	vault  Reader
	logger *zap.Logger
}

// ProviderConfig holds configuration for the secrets provider
type ProviderConfig struct {
	Source       SecretSource
	VaultName    string
	Environment  string // "development", "staging", "production"
	CacheEnabled bool
	CacheTTL     time.Duration
	// Credential is passed to the vault client; nil means DefaultAzureCredential
	Credential azcore.TokenCredential
}

// ResolveSource turns SourceAuto into a concrete source for the given environment
func ResolveSource(source SecretSource, environment string) SecretSource {
	if source != SourceAuto {
		return source
	}
	switch environment {
	case "development", "local", "":
		return SourceEnvironment
	default:
		return SourceVault
	}
}

// NewProvider creates a provider for cfg.Source, opening a vault client when the source is vault
func NewProvider(cfg *ProviderConfig, logger *zap.Logger) (*Provider, error) {
	source := ResolveSource(cfg.Source, cfg.Environment)

	switch source {
	case SourceEnvironment:
		logger.Info("Secrets provider initialized", zap.String("source", string(source)))
		return &Provider{source: source, logger: logger}, nil
	case SourceVault:
		if cfg.VaultName == "" {
			return nil, fmt.Errorf("vault name required when using vault secret source")
		}
		vault, err := NewVaultClient(&VaultConfig{
			VaultName:    cfg.VaultName,
			CacheEnabled: cfg.CacheEnabled,
			CacheTTL:     cfg.CacheTTL,
			Credential:   cfg.Credential,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vault client: %w", err)
		}
		logger.Info("Secrets provider initialized",
			zap.String("source", string(source)),
			zap.String("vault_name", cfg.VaultName),
		)
		return NewVaultProvider(vault, logger), nil
	default:
		return nil, fmt.Errorf("unknown secret source: %s", source)
	}
}

// NewVaultProvider creates a vault-backed provider around an existing reader
func NewVaultProvider(vault Reader, logger *zap.Logger) *Provider {
	return &Provider{source: SourceVault, vault: vault, logger: logger}
}

// Lookup returns the value of ref. A non-empty environment variable always wins;
// otherwise the vault is consulted when it is the configured source.
func (p *Provider) Lookup(ctx context.Context, ref Ref) (string, error) {
	if value := os.Getenv(ref.Env); value != "" {
		p.logger.Debug("Using environment variable", zap.String("env_name", ref.Env))
		return value, nil
	}

	if p.vault == nil {
		return "", fmt.Errorf("%w: %s is not set", ErrSecretNotFound, ref.Env)
	}
	return p.vault.GetSecret(ctx, ref.Name)
}

// Source returns the current secret source
func (p *Provider) Source() SecretSource {
	return p.source
}

// IsVaultEnabled returns true if secrets are loaded from vault
func (p *Provider) IsVaultEnabled() bool {
	return p.source == SourceVault
}
