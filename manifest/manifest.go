// Package manifest persists the durable record of every provider call:
// a Stamp auditing the credential and outcome, and a Manifest binding
// the returned payload to its supply order.
package manifest

import (
	"errors"
	"time"
)

// KV bucket names.
const (
	BucketStamps    = "PROCURER_STAMPS"
	BucketManifests = "PROCURER_MANIFESTS"
)

// Stamp status codes written by the executor. Handlers report their own
// provider status codes on success.
const (
	StatusPending     = "pending"
	StatusError       = "error"
	StatusCancelled   = "cancelled"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Stamp records the credential and outcome of one call attempt. It is
// minted pending when a quartermaster is selected and finalized when
// the handler completes. Stamps are shared by reference from manifests.
type Stamp struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	Endpoint    string     `json:"endpoint"`
	PassportID  string     `json:"passport_id,omitempty"`
	StatusCode  string     `json:"status_code"`
	Notes       string     `json:"notes,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Finalized reports whether the stamp has recorded its outcome.
func (s *Stamp) Finalized() bool {
	return s.FinalizedAt != nil
}

// Manifest is the durable record of one provider call attempt. Every
// attempt produces exactly one, with nil Data when the call never
// reached the provider; manifests are append-only and ordered by link
// position within their supply order.
type Manifest struct {
	ID            string         `json:"id"`
	SupplyOrderID string         `json:"supply_order_id"`
	StampID       string         `json:"stamp_id"`
	Position      int            `json:"position"`
	Data          map[string]any `json:"data,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
