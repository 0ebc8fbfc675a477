package order

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/harborline/procurer/manifest"
	"github.com/harborline/procurer/supplychain"
)

// Status is the point-in-time view of an order returned to callers.
type Status struct {
	Order     *SupplyOrder         `json:"order"`
	Manifests []*manifest.Manifest `json:"manifests"`
}

// Service submits procurements and reports on their orders.
type Service struct {
	catalog    Catalog
	store      *Store
	manifests  *manifest.Store
	natsClient *natsclient.Client
	distillery Distillery
	logger     *slog.Logger
}

// NewService wires the submission surface together.
func NewService(catalog Catalog, store *Store, manifests *manifest.Store, nc *natsclient.Client, dist Distillery, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog:    catalog,
		store:      store,
		manifests:  manifests,
		natsClient: nc,
		distillery: dist,
		logger:     logger,
	}
}

// Submit validates input against the procurement's chain, creates a
// pending order, and queues the chain's first link for execution.
func (s *Service) Submit(ctx context.Context, procurementID, userID string, input map[string]any) (*SupplyOrder, error) {
	return s.submit(ctx, procurementID, userID, "", input)
}

// submit is the shared submission path. The order record is complete
// before the first task is published; nothing writes to it afterwards,
// so the executor can never race a submission-side update.
func (s *Service) submit(ctx context.Context, procurementID, userID, alertID string, input map[string]any) (*SupplyOrder, error) {
	proc, err := s.catalog.Procurement(procurementID)
	if err != nil {
		return nil, err
	}
	if err := proc.Validate(); err != nil {
		return nil, err
	}
	if err := proc.Chain.ValidateInput(input); err != nil {
		return nil, err
	}

	o := &SupplyOrder{
		ProcurementID: procurementID,
		UserID:        userID,
		AlertID:       alertID,
		InputData:     input,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}

	if err := s.publishTask(ctx, o, proc.Chain.First().Position); err != nil {
		// Leave the order pending; operators can requeue it.
		s.logger.Error("Failed to queue first link",
			"order_id", o.ID,
			"procurement_id", procurementID,
			"error", err)
		return nil, err
	}

	s.logger.Info("Supply order submitted",
		"order_id", o.ID,
		"procurement_id", procurementID,
		"user_id", userID)
	return o, nil
}

// SubmitForAlert derives chain input from a stored alert and submits
// the procurement with it.
func (s *Service) SubmitForAlert(ctx context.Context, procurementID, alertID string) (*SupplyOrder, error) {
	proc, err := s.catalog.Procurement(procurementID)
	if err != nil {
		return nil, err
	}

	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}

	input := AlertInput(proc.Chain, alert, nil)
	return s.submit(ctx, procurementID, "", alertID, input)
}

func (s *Service) publishTask(ctx context.Context, o *SupplyOrder, position int) error {
	task := supplychain.LinkTask{
		OrderID:       o.ID,
		ProcurementID: o.ProcurementID,
		UserID:        o.UserID,
		Position:      position,
		Data:          o.InputData,
	}

	baseMsg := message.NewBaseMessage(task.Schema(), &task, "order-service")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal link task: %w", err)
	}

	js, err := s.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}
	if _, err := js.Publish(ctx, supplychain.TaskSubject, data); err != nil {
		return fmt.Errorf("publish link task: %w", err)
	}
	return nil
}

// Get returns the order together with the manifests accumulated so
// far, ordered by link position.
func (s *Service) Get(ctx context.Context, orderID string) (*Status, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	manifests, err := s.manifests.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Status{Order: o, Manifests: manifests}, nil
}

// Results fetches the stored document of a completed order.
func (s *Service) Results(ctx context.Context, orderID string) (map[string]any, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.DocID == "" {
		return nil, fmt.Errorf("order %s has no stored results (state %s)", o.ID, o.State)
	}
	return s.distillery.Find(ctx, o.DocID)
}

// ListByUser returns the user's orders.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*SupplyOrder, error) {
	return s.store.ListByUser(ctx, userID)
}
