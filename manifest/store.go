package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Store persists stamps and manifests in NATS KV.
type Store struct {
	stamps    jetstream.KeyValue
	manifests jetstream.KeyValue
}

// NewStore creates a Store with the given JetStream context, creating
// the KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	stamps, err := getOrCreateBucket(ctx, js, BucketStamps)
	if err != nil {
		return nil, fmt.Errorf("create stamps bucket: %w", err)
	}

	manifests, err := getOrCreateBucket(ctx, js, BucketManifests)
	if err != nil {
		return nil, fmt.Errorf("create manifests bucket: %w", err)
	}

	return &Store{stamps: stamps, manifests: manifests}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Procurer %s storage", strings.ToLower(name)),
		History:     5,
	})
}

// MintStamp creates a pending stamp for a call attempt. passportID may
// be empty when the attempt failed before a credential was selected.
func (s *Store) MintStamp(ctx context.Context, userID, endpoint, passportID string) (*Stamp, error) {
	stamp := &Stamp{
		ID:         uuid.New().String(),
		UserID:     userID,
		Endpoint:   endpoint,
		PassportID: passportID,
		StatusCode: StatusPending,
		IssuedAt:   time.Now(),
	}

	data, err := json.Marshal(stamp)
	if err != nil {
		return nil, fmt.Errorf("marshal stamp: %w", err)
	}
	if _, err := s.stamps.Create(ctx, stamp.ID, data); err != nil {
		return nil, fmt.Errorf("store stamp: %w", err)
	}
	return stamp, nil
}

// FinalizeStamp records the outcome of the call the stamp was minted
// for.
func (s *Store) FinalizeStamp(ctx context.Context, id, statusCode, notes string) (*Stamp, error) {
	stamp, err := s.GetStamp(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stamp.StatusCode = statusCode
	stamp.Notes = notes
	stamp.FinalizedAt = &now

	data, err := json.Marshal(stamp)
	if err != nil {
		return nil, fmt.Errorf("marshal stamp: %w", err)
	}
	if _, err := s.stamps.Put(ctx, stamp.ID, data); err != nil {
		return nil, fmt.Errorf("update stamp: %w", err)
	}
	return stamp, nil
}

// GetStamp retrieves a stamp by ID.
func (s *Store) GetStamp(ctx context.Context, id string) (*Stamp, error) {
	entry, err := s.stamps.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get stamp: %w", err)
	}

	var stamp Stamp
	if err := json.Unmarshal(entry.Value(), &stamp); err != nil {
		return nil, fmt.Errorf("unmarshal stamp: %w", err)
	}
	return &stamp, nil
}

// CreateManifest appends a manifest. The ID and creation time are
// assigned here; manifests are never updated afterwards.
func (s *Store) CreateManifest(ctx context.Context, m *Manifest) error {
	m.ID = uuid.New().String()
	m.CreatedAt = time.Now()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := s.manifests.Create(ctx, m.ID, data); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}
	return nil
}

// GetManifest retrieves a manifest by ID.
func (s *Store) GetManifest(ctx context.Context, id string) (*Manifest, error) {
	entry, err := s.manifests.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(entry.Value(), &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// ListByOrder returns the manifests of one supply order in link
// position order.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]*Manifest, error) {
	keys, err := s.manifests.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list manifest keys: %w", err)
	}

	var manifests []*Manifest
	for _, key := range keys {
		entry, err := s.manifests.Get(ctx, key)
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(entry.Value(), &m); err != nil {
			continue
		}
		if m.SupplyOrderID == orderID {
			manifests = append(manifests, &m)
		}
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Position < manifests[j].Position })
	return manifests, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
