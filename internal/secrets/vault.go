package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"go.uber.org/zap"
)

// VaultClient reads and writes Key Vault secrets, caching reads for a TTL
type VaultClient struct {
	client       *azsecrets.Client
	vaultName    string
	logger       *zap.Logger
	mu           sync.Mutex
	cache        map[string]cachedSecret
	cacheTTL     time.Duration
	cacheEnabled bool
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// VaultConfig holds configuration for the vault client
type VaultConfig struct {
	VaultName    string
	CacheEnabled bool
	CacheTTL     time.Duration
	// Credential is used when set, otherwise a DefaultAzureCredential is created
	Credential azcore.TokenCredential
	// ClientOptions are passed to the Key Vault client (tests point it at a local server)
	ClientOptions *azsecrets.ClientOptions
	// VaultURL overrides the URL derived from VaultName
	VaultURL string
}

// NewVaultClient creates a new Azure Key Vault client
// Uses DefaultAzureCredential unless a credential is supplied, which supports:
// - Environment variables (AZURE_CLIENT_ID, AZURE_CLIENT_SECRET, AZURE_TENANT_ID)
// - Managed Identity (when running in Azure)
// - Azure CLI credentials (for local development)
func NewVaultClient(cfg *VaultConfig, logger *zap.Logger) (*VaultClient, error) {
	if cfg.VaultName == "" {
		return nil, fmt.Errorf("vault name is required")
	}

	logger.Info("Initializing Azure Key Vault client",
		zap.String("vault_name", cfg.VaultName),
		zap.Bool("cache_enabled", cfg.CacheEnabled),
	)

	cred := cfg.Credential
	if cred == nil {
		defaultCred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			logger.Error("Failed to create Azure credential", zap.Error(err))
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
		cred = defaultCred
	}

	vaultURL := cfg.VaultURL
	if vaultURL == "" {
		vaultURL = fmt.Sprintf("https://%s.vault.azure.net/", cfg.VaultName)
	}

	client, err := azsecrets.NewClient(vaultURL, cred, cfg.ClientOptions)
	if err != nil {
		logger.Error("Failed to create Key Vault client", zap.Error(err))
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	logger.Info("Azure Key Vault client initialized",
		zap.String("vault_url", vaultURL),
	)

	return &VaultClient{
		client:       client,
		vaultName:    cfg.VaultName,
		logger:       logger,
		cache:        make(map[string]cachedSecret),
		cacheTTL:     cacheTTL,
		cacheEnabled: cfg.CacheEnabled,
	}, nil
}

// GetSecret retrieves a secret from Azure Key Vault
func (v *VaultClient) GetSecret(ctx context.Context, secretName string) (string, error) {
	if v.cacheEnabled {
		v.mu.Lock()
		cached, ok := v.cache[secretName]
		if ok && !time.Now().Before(cached.expiresAt) {
			delete(v.cache, secretName)
			ok = false
		}
		v.mu.Unlock()
		if ok {
			v.logger.Debug("Secret retrieved from cache", zap.String("secret_name", secretName))
			return cached.value, nil
		}
	}

	v.logger.Debug("Fetching secret from Key Vault", zap.String("secret_name", secretName))

	resp, err := v.client.GetSecret(ctx, secretName, "", nil)
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: '%s' in vault %s", ErrSecretNotFound, secretName, v.vaultName)
	}
	if err != nil {
		v.logger.Error("Failed to get secret from Key Vault",
			zap.String("secret_name", secretName),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to get secret '%s': %w", secretName, err)
	}

	if resp.Value == nil {
		return "", fmt.Errorf("secret '%s' has no value", secretName)
	}

	value := *resp.Value
	v.remember(secretName, value)

	return value, nil
}

// SetSecret stores a new version of a secret in Azure Key Vault
func (v *VaultClient) SetSecret(ctx context.Context, secretName, value string) error {
	_, err := v.client.SetSecret(ctx, secretName, azsecrets.SetSecretParameters{
		Value: &value,
	}, nil)
	if err != nil {
		v.logger.Error("Failed to set secret in Key Vault",
			zap.String("secret_name", secretName),
			zap.Error(err),
		)
		return fmt.Errorf("failed to set secret '%s': %w", secretName, err)
	}

	v.remember(secretName, value)

	v.logger.Info("Secret stored in Key Vault",
		zap.String("secret_name", secretName),
		zap.String("vault_name", v.vaultName),
	)
	return nil
}

func (v *VaultClient) remember(secretName, value string) {
	if !v.cacheEnabled {
		return
	}
	v.mu.Lock()
	v.cache[secretName] = cachedSecret{
		value:     value,
		expiresAt: time.Now().Add(v.cacheTTL),
	}
	v.mu.Unlock()
}

// ClearCache clears all cached secrets
func (v *VaultClient) ClearCache() {
	v.mu.Lock()
	v.cache = make(map[string]cachedSecret)
	v.mu.Unlock()
	v.logger.Debug("Secret cache cleared")
}
