// Package ingest copies the fetched dataset into the data lake as line-delimited JSON.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/straye-as/sports-datalake/internal/storage"
	"go.uber.org/zap"
)

// Fetcher returns the records to ingest. An empty result means there is nothing to upload.
type Fetcher interface {
	FetchRecords(ctx context.Context) []json.RawMessage
}

// EncodeJSONL serializes each record as compact JSON on its own line.
// Lines are joined with "\n" and no trailing newline is added.
// Only insignificant whitespace is removed; string contents are kept byte for byte.
func EncodeJSONL(records []json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	for i, record := range records {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if err := json.Compact(&buf, record); err != nil {
			return nil, fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Uploader writes a record collection as a single blob
type Uploader struct {
	store       storage.Storage
	blobName    string
	contentType string
	logger      *zap.Logger
}

// NewUploader creates an uploader writing to blobName in store
func NewUploader(store storage.Storage, blobName, contentType string, logger *zap.Logger) *Uploader {
	if contentType == "" {
		contentType = "application/x-ndjson"
	}
	return &Uploader{
		store:       store,
		blobName:    blobName,
		contentType: contentType,
		logger:      logger,
	}
}

// UploadRecords encodes records as line-delimited JSON and uploads them, overwriting the blob.
// No upload is made for an empty collection.
func (u *Uploader) UploadRecords(ctx context.Context, records []json.RawMessage) error {
	if len(records) == 0 {
		u.logger.Info("No records to upload", zap.String("blobName", u.blobName))
		return nil
	}

	payload, err := EncodeJSONL(records)
	if err != nil {
		return err
	}

	if err := u.store.Upload(ctx, u.blobName, u.contentType, payload); err != nil {
		u.logger.Error("Failed to upload records",
			zap.String("blobName", u.blobName),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upload %d records to %s: %w", len(records), u.blobName, err)
	}

	return nil
}

// Pipeline fetches records and uploads them when any were returned
type Pipeline struct {
	fetcher  Fetcher
	uploader *Uploader
	logger   *zap.Logger
}

// NewPipeline creates a fetch-then-upload pipeline
func NewPipeline(fetcher Fetcher, uploader *Uploader, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		uploader: uploader,
		logger:   logger,
	}
}

// Run fetches and uploads once, returning the number of records uploaded
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	start := time.Now()

	records := p.fetcher.FetchRecords(ctx)
	if len(records) == 0 {
		p.logger.Warn("Fetch returned no records, skipping upload")
		return 0, nil
	}

	if err := p.uploader.UploadRecords(ctx, records); err != nil {
		return 0, err
	}

	p.logger.Info("Ingest completed",
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return len(records), nil
}
