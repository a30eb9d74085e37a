package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/straye-as/sports-datalake/internal/config"
	"go.uber.org/zap"
)

// Storage writes named objects, replacing any existing object with the same name
type Storage interface {
	Upload(ctx context.Context, name string, contentType string, data []byte) error
}

// NewStorage creates a new storage instance based on configuration.
// For local mode, objects are written to the local filesystem.
// For azure mode, objects are written to the configured Azure Blob Storage container
// of the account identified by connectionString.
func NewStorage(cfg *config.StorageConfig, connectionString string, logger *zap.Logger) (Storage, error) {
	switch cfg.Mode {
	case "local":
		return NewLocalStorage(cfg.LocalBasePath)
	case "azure", "cloud":
		if connectionString == "" {
			return nil, fmt.Errorf("connection string required for azure storage")
		}
		return NewAzureBlobStorage(connectionString, cfg.Container, logger)
	default:
		return nil, fmt.Errorf("unsupported storage mode: %s", cfg.Mode)
	}
}

// LocalStorage implements Storage interface for local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Upload writes data to basePath/name, creating intermediate directories
func (s *LocalStorage) Upload(ctx context.Context, name string, contentType string, data []byte) error {
	fullPath, err := s.Path(name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Path returns the filesystem path an object name is stored at
func (s *LocalStorage) Path(name string) (string, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.basePath, fullPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid object name: %q", name)
	}
	return fullPath, nil
}
