package supplychain

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/message"
)

// JetStream names shared by the submission surface and the executor.
const (
	// StreamName is the work-queue stream carrying link tasks.
	StreamName = "PROCURER"

	// TaskSubject carries one message per link execution.
	TaskSubject = "procurer.link.execute"

	// SubjectPrefix matches every subject the stream owns.
	SubjectPrefix = "procurer.link.>"
)

// LinkTaskType is the message type for link execution tasks.
var LinkTaskType = message.Type{Domain: "procurer", Category: "link-task", Version: "v1"}

// LinkTask is one unit of executor work: run the link at Position of
// the order's chain, feeding it Data. Data carries the submitter's
// input for the first link and the prior link's cargo afterwards.
// Tasks carry ids only; the executor re-resolves chain and links from
// the catalog.
type LinkTask struct {
	OrderID       string         `json:"order_id"`
	ProcurementID string         `json:"procurement_id"`
	UserID        string         `json:"user_id,omitempty"`
	Position      int            `json:"position"`
	Data          map[string]any `json:"data,omitempty"`
}

// Schema implements message.Payload.
func (t *LinkTask) Schema() message.Type {
	return LinkTaskType
}

// Validate implements message.Payload.
func (t *LinkTask) Validate() error {
	if t.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if t.ProcurementID == "" {
		return fmt.Errorf("procurement_id is required")
	}
	if t.Position < 0 {
		return fmt.Errorf("position cannot be negative")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t *LinkTask) MarshalJSON() ([]byte, error) {
	type Alias LinkTask
	return json.Marshal((*Alias)(t))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *LinkTask) UnmarshalJSON(data []byte) error {
	type Alias LinkTask
	return json.Unmarshal(data, (*Alias)(t))
}

// ParseLinkTask decodes a link task from the wire, accepting both
// BaseMessage-wrapped and raw JSON encodings.
func ParseLinkTask(data []byte) (*LinkTask, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Payload) > 0 {
		data = envelope.Payload
	}

	var task LinkTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal link task: %w", err)
	}
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid link task: %w", err)
	}
	return &task, nil
}
