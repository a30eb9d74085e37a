// Package outputs persists the connection details produced by provisioning.
package outputs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/straye-as/sports-datalake/internal/provision"
	"go.uber.org/zap"
)

const (
	ConnectionStringKey = "AZURE_CONNECTION_STRING"
	SQLEndpointKey      = "SYNAPSE_SQL_ENDPOINT"

	ConnectionStringSecret = "azure-connection-string"
	SQLEndpointSecret      = "synapse-sql-endpoint"
)

// Sink stores provisioning outputs for later runs and other tools
type Sink interface {
	Save(ctx context.Context, out provision.Outputs) error
}

// EnvFileSink appends outputs as KEY=value lines to a dotenv file.
// Existing content is never truncated, so repeated runs leave earlier lines in place.
type EnvFileSink struct {
	path   string
	logger *zap.Logger
}

// NewEnvFileSink creates a sink appending to path
func NewEnvFileSink(path string, logger *zap.Logger) *EnvFileSink {
	return &EnvFileSink{path: path, logger: logger}
}

// Save appends the connection string and SQL endpoint lines
func (s *EnvFileSink) Save(ctx context.Context, out provision.Outputs) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open env file %s: %w", s.path, err)
	}
	defer f.Close()

	terminated, err := endsWithNewline(f)
	if err != nil {
		return fmt.Errorf("failed to read env file %s: %w", s.path, err)
	}

	var b strings.Builder
	if !terminated {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s=%s\n", ConnectionStringKey, out.ConnectionString)
	fmt.Fprintf(&b, "%s=%s\n", SQLEndpointKey, out.SQLEndpoint)

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write env file %s: %w", s.path, err)
	}

	s.logger.Warn("Provisioning outputs written to env file in plain text",
		zap.String("path", s.path),
		zap.Strings("keys", []string{ConnectionStringKey, SQLEndpointKey}),
	)
	return nil
}

// endsWithNewline reports whether f is empty or its last byte is a newline
func endsWithNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] == '\n', nil
}

// SecretWriter stores a named secret value
type SecretWriter interface {
	SetSecret(ctx context.Context, name, value string) error
}

// VaultSink stores outputs as Key Vault secrets
type VaultSink struct {
	vault  SecretWriter
	logger *zap.Logger
}

// NewVaultSink creates a sink writing through vault
func NewVaultSink(vault SecretWriter, logger *zap.Logger) *VaultSink {
	return &VaultSink{vault: vault, logger: logger}
}

// Save writes both outputs, stopping at the first failure
func (s *VaultSink) Save(ctx context.Context, out provision.Outputs) error {
	if err := s.vault.SetSecret(ctx, ConnectionStringSecret, out.ConnectionString); err != nil {
		return fmt.Errorf("failed to store connection string: %w", err)
	}
	if err := s.vault.SetSecret(ctx, SQLEndpointSecret, out.SQLEndpoint); err != nil {
		return fmt.Errorf("failed to store SQL endpoint: %w", err)
	}

	s.logger.Info("Provisioning outputs stored in Key Vault",
		zap.Strings("secrets", []string{ConnectionStringSecret, SQLEndpointSecret}),
	)
	return nil
}
