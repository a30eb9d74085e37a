package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// AzureBlobStorage implements Storage interface for Azure Blob Storage
type AzureBlobStorage struct {
	client        *azblob.Client
	containerName string
	logger        *zap.Logger

	mu             sync.Mutex
	containerReady bool
}

// NewAzureBlobStorage creates a new Azure Blob Storage instance.
// The container is created on first upload.
func NewAzureBlobStorage(connectionString, containerName string, logger *zap.Logger) (*AzureBlobStorage, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobStorage{
		client:        client,
		containerName: containerName,
		logger:        logger,
	}, nil
}

// EnsureContainer creates the container, treating an existing container as success
func (s *AzureBlobStorage) EnsureContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containerReady {
		return nil
	}

	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	switch {
	case err == nil:
		s.logger.Info("Blob container created", zap.String("container", s.containerName))
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
		s.logger.Debug("Blob container already exists", zap.String("container", s.containerName))
	default:
		return fmt.Errorf("failed to create container: %w", err)
	}

	s.containerReady = true
	return nil
}

// Upload writes data as a block blob in a single request, overwriting any existing blob
func (s *AzureBlobStorage) Upload(ctx context.Context, name string, contentType string, data []byte) error {
	if err := s.EnsureContainer(ctx); err != nil {
		return err
	}

	_, err := s.client.UploadBuffer(ctx, s.containerName, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob: %w", err)
	}

	s.logger.Info("Uploaded data to Blob Storage",
		zap.String("blobName", name),
		zap.String("container", s.containerName),
		zap.String("contentType", contentType),
		zap.Int("size", len(data)),
	)

	return nil
}
