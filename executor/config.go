package executor

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/harborline/procurer/supplychain"
)

// executorSchema defines the configuration schema.
var executorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the link-executor component.
type Config struct {
	// StreamName is the JetStream work-queue stream carrying link tasks.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream carrying link tasks,category:basic,default:PROCURER"`

	// ConsumerName is the durable consumer name for task consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for task consumption,category:basic,default:link-executor"`

	// TaskSubject is the subject link tasks are published on.
	TaskSubject string `json:"task_subject" schema:"type:string,description:Subject carrying link execution tasks,category:basic,default:procurer.link.execute"`

	// MaxConcurrent limits parallel link executions.
	MaxConcurrent int `json:"max_concurrent" schema:"type:int,description:Maximum parallel link executions,category:advanced,default:4,min:1,max:32"`

	// HandlerTimeout is the timeout for one provider call, excluding the
	// link's configured countdown.
	HandlerTimeout string `json:"handler_timeout" schema:"type:string,description:Timeout for one provider call,category:advanced,default:600s"`

	// AckWait is how long JetStream waits before redelivering an unacked task.
	AckWait string `json:"ack_wait" schema:"type:string,description:Redelivery window for unacked tasks,category:advanced,default:30m"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:     supplychain.StreamName,
		ConsumerName:   "link-executor",
		TaskSubject:    supplychain.TaskSubject,
		MaxConcurrent:  4,
		HandlerTimeout: "600s",
		AckWait:        "30m",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "link-tasks",
					Type:        "jetstream",
					Subject:     supplychain.TaskSubject,
					StreamName:  supplychain.StreamName,
					Description: "Receive link execution tasks",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "next-links",
					Type:        "jetstream",
					Subject:     supplychain.TaskSubject,
					Description: "Queue the next link of a running chain",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.TaskSubject == "" {
		return fmt.Errorf("task_subject is required")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.MaxConcurrent > 32 {
		return fmt.Errorf("max_concurrent cannot exceed 32")
	}

	if c.HandlerTimeout != "" {
		if _, err := time.ParseDuration(c.HandlerTimeout); err != nil {
			return fmt.Errorf("invalid handler_timeout: %w", err)
		}
	}
	if c.AckWait != "" {
		if _, err := time.ParseDuration(c.AckWait); err != nil {
			return fmt.Errorf("invalid ack_wait: %w", err)
		}
	}

	return nil
}

// GetHandlerTimeout returns the handler timeout duration.
// Returns default 600s if parsing fails.
func (c *Config) GetHandlerTimeout() time.Duration {
	if c.HandlerTimeout == "" {
		return 600 * time.Second
	}
	d, err := time.ParseDuration(c.HandlerTimeout)
	if err != nil || d <= 0 {
		return 600 * time.Second
	}
	return d
}

// GetAckWait returns the redelivery window duration.
// Returns default 30m if parsing fails.
func (c *Config) GetAckWait() time.Duration {
	if c.AckWait == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(c.AckWait)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
