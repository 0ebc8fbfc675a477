// Package distillery stores the final normalized document produced by
// a completed supply chain.
package distillery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// BucketDocuments is the KV bucket holding stored documents.
const BucketDocuments = "PROCURER_DOCS"

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Document wraps a chain's final output with the platform that
// produced it.
type Document struct {
	ID       string         `json:"id"`
	Platform string         `json:"platform"`
	Data     map[string]any `json:"data"`
	SavedAt  time.Time      `json:"saved_at"`
}

// Store is a KV-backed document store.
type Store struct {
	docs jetstream.KeyValue
}

// NewStore creates a Store, creating the documents bucket if needed.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	docs, err := js.KeyValue(ctx, BucketDocuments)
	if err != nil {
		docs, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketDocuments,
			Description: "Procurer stored documents",
			History:     5,
		})
		if err != nil {
			return nil, fmt.Errorf("create documents bucket: %w", err)
		}
	}
	return &Store{docs: docs}, nil
}

// Ref identifies this storage backend in supply order records.
func (s *Store) Ref() string {
	return BucketDocuments
}

// Store saves data under the platform name and returns the document
// id. The write is retried on transient failures.
func (s *Store) Store(ctx context.Context, platform string, data map[string]any) (string, error) {
	doc := Document{
		ID:       uuid.New().String(),
		Platform: platform,
		Data:     data,
		SavedAt:  time.Now(),
	}

	payload, err := json.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	retryConfig := retry.DefaultConfig()
	err = retry.Do(ctx, retryConfig, func() error {
		_, err := s.docs.Create(ctx, doc.ID, payload)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return doc.ID, nil
}

// Find returns the stored document's data, or ErrNotFound.
func (s *Store) Find(ctx context.Context, docID string) (map[string]any, error) {
	doc, err := s.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

// Get returns the full stored document, or ErrNotFound.
func (s *Store) Get(ctx context.Context, docID string) (*Document, error) {
	entry, err := s.docs.Get(ctx, docID)
	if err != nil {
		if strings.Contains(err.Error(), "key not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}
