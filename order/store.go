package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Store persists supply orders and alerts in NATS KV.
type Store struct {
	orders jetstream.KeyValue
	alerts jetstream.KeyValue
}

// NewStore creates a Store with the given JetStream context, creating
// the KV buckets if they don't exist.
func NewStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	orders, err := getOrCreateBucket(ctx, js, BucketOrders)
	if err != nil {
		return nil, fmt.Errorf("create orders bucket: %w", err)
	}

	alerts, err := getOrCreateBucket(ctx, js, BucketAlerts)
	if err != nil {
		return nil, fmt.Errorf("create alerts bucket: %w", err)
	}

	return &Store{orders: orders, alerts: alerts}, nil
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

// Create persists a new pending order and assigns its id.
func (s *Store) Create(ctx context.Context, o *SupplyOrder) error {
	o.ID = uuid.New().String()
	o.State = StatePending
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if _, err := s.orders.Create(ctx, o.ID, data); err != nil {
		return fmt.Errorf("store order: %w", err)
	}
	return nil
}

// Get retrieves an order by id.
func (s *Store) Get(ctx context.Context, id string) (*SupplyOrder, error) {
	entry, err := s.orders.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	var o SupplyOrder
	if err := json.Unmarshal(entry.Value(), &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// SetState transitions an order to the given state.
func (s *Store) SetState(ctx context.Context, id string, state State) error {
	return s.update(ctx, id, func(o *SupplyOrder) {
		o.State = state
	})
}

// SetResult records the storage pointer of a completed order.
func (s *Store) SetResult(ctx context.Context, id, storageRef, docID string) error {
	return s.update(ctx, id, func(o *SupplyOrder) {
		o.StorageRef = storageRef
		o.DocID = docID
		o.State = StateCompleted
	})
}

func (s *Store) update(ctx context.Context, id string, mutate func(*SupplyOrder)) error {
	o, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	mutate(o)
	o.UpdatedAt = time.Now()

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if _, err := s.orders.Put(ctx, o.ID, data); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// ListByUser returns all orders submitted by the user.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*SupplyOrder, error) {
	return s.list(ctx, func(o *SupplyOrder) bool { return o.UserID == userID })
}

// ListByAlert returns all orders derived from the alert.
func (s *Store) ListByAlert(ctx context.Context, alertID string) ([]*SupplyOrder, error) {
	return s.list(ctx, func(o *SupplyOrder) bool { return o.AlertID == alertID })
}

func (s *Store) list(ctx context.Context, keep func(*SupplyOrder) bool) ([]*SupplyOrder, error) {
	keys, err := s.orders.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list order keys: %w", err)
	}

	var orders []*SupplyOrder
	for _, key := range keys {
		entry, err := s.orders.Get(ctx, key)
		if err != nil {
			continue
		}
		var o SupplyOrder
		if err := json.Unmarshal(entry.Value(), &o); err != nil {
			continue
		}
		if keep(&o) {
			orders = append(orders, &o)
		}
	}
	return orders, nil
}

// PutAlert stores an alert payload.
func (s *Store) PutAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if _, err := s.alerts.Put(ctx, a.ID, data); err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	return nil
}

// GetAlert retrieves an alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	entry, err := s.alerts.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}

	var a Alert
	if err := json.Unmarshal(entry.Value(), &a); err != nil {
		return nil, fmt.Errorf("unmarshal alert: %w", err)
	}
	return &a, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
