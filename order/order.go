// Package order tracks supply orders through their lifecycle and
// exposes the programmatic submission surface for procurements.
package order

import (
	"context"
	"time"

	"github.com/harborline/procurer/supplychain"
)

// KV bucket names.
const (
	BucketOrders = "PROCURER_ORDERS"
	BucketAlerts = "PROCURER_ALERTS"
)

// State is a supply order's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SupplyOrder is one invocation of a procurement for a principal. It is
// created pending, runs while manifests accumulate, and ends completed
// (with a storage pointer) or failed.
type SupplyOrder struct {
	ID            string         `json:"id"`
	ProcurementID string         `json:"procurement_id"`
	UserID        string         `json:"user_id,omitempty"`
	AlertID       string         `json:"alert_id,omitempty"`
	InputData     map[string]any `json:"input_data"`
	State         State          `json:"state"`
	StorageRef    string         `json:"storage_ref,omitempty"`
	DocID         string         `json:"doc_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Alert is an externally produced event whose payload can seed a
// procurement's input.
type Alert struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Procurement pairs a supply chain with the downstream store that
// receives its final output.
type Procurement struct {
	ID    string
	Name  string
	Chain *supplychain.SupplyChain
}

// Validate checks the procurement's chain is structurally usable.
func (p *Procurement) Validate() error {
	return p.Chain.Validate()
}

// IsValid reports whether data would pass the chain's input
// validation.
func (p *Procurement) IsValid(data map[string]any) bool {
	return p.Chain.ValidateInput(data) == nil
}

// AlertInput derives chain input from an alert payload: for each of the
// chain's input fields, the alert's value overwrites the base input.
// Idempotent for a fixed alert.
func AlertInput(chain *supplychain.SupplyChain, alert *Alert, base map[string]any) map[string]any {
	input := make(map[string]any, len(base)+len(chain.InputFields()))
	for k, v := range base {
		input[k] = v
	}
	for field := range chain.InputFields() {
		input[field] = alert.Data[field]
	}
	return input
}

// FilterByAlert returns the procurements whose chains accept the
// alert's payload.
func FilterByAlert(procurements []*Procurement, alert *Alert) []*Procurement {
	var matched []*Procurement
	for _, p := range procurements {
		input := AlertInput(p.Chain, alert, nil)
		if p.IsValid(input) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Catalog resolves procurement ids. Implemented by the configuration
// catalog.
type Catalog interface {
	Procurement(id string) (*Procurement, error)
}

// Distillery is the downstream processor that persists a chain's final
// output.
type Distillery interface {
	Ref() string
	Store(ctx context.Context, platform string, data map[string]any) (string, error)
	Find(ctx context.Context, docID string) (map[string]any, error)
}
