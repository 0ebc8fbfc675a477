// Package executor consumes link tasks from the work queue and runs
// them: waiting out link countdowns, resolving credentials, invoking
// provider handlers, recording stamps and manifests, and queueing the
// next link or finalizing the supply order.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborline/procurer/config"
	"github.com/harborline/procurer/distillery"
	"github.com/harborline/procurer/manifest"
	"github.com/harborline/procurer/order"
	"github.com/harborline/procurer/quartermaster"
)

// Component implements the link-executor processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	catalog  *config.Catalog
	resolver *quartermaster.Resolver

	// Stores are built at Start once JetStream is available.
	orders     *order.Store
	manifests  *manifest.Store
	distillery *distillery.Store

	// JetStream consumer
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Execution semaphore for max_concurrent
	sem chan struct{}

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	tasksProcessed atomic.Int64
	linksSucceeded atomic.Int64
	linksFailed    atomic.Int64
	ordersFinished atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent creates a new link-executor processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = defaults.StreamName
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaults.ConsumerName
	}
	if cfg.TaskSubject == "" {
		cfg.TaskSubject = defaults.TaskSubject
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.HandlerTimeout == "" {
		cfg.HandlerTimeout = defaults.HandlerTimeout
	}
	if cfg.AckWait == "" {
		cfg.AckWait = defaults.AckWait
	}
	if cfg.Ports == nil {
		cfg.Ports = defaults.Ports
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	catalog := config.Global()
	logger := deps.GetLogger()

	return &Component{
		name:       "link-executor",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     logger,
		catalog:    catalog,
		resolver:   quartermaster.NewResolver(catalog.Quartermasters(), logger),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized link-executor",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"task_subject", c.config.TaskSubject,
		"max_concurrent", c.config.MaxConcurrent)
	return nil
}

// Start begins consuming link tasks.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	orders, err := order.NewStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create order store: %w", err)
	}
	c.orders = orders

	manifests, err := manifest.NewStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create manifest store: %w", err)
	}
	c.manifests = manifests

	docs, err := distillery.NewStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create document store: %w", err)
	}
	c.distillery = docs

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.TaskSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.GetAckWait(),
		MaxDeliver:    3,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("link-executor started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.TaskSubject,
		"max_concurrent", c.config.MaxConcurrent)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes tasks from the JetStream consumer.
// Each fetched task takes a semaphore slot and runs in its own
// goroutine, so slow links (long countdowns, report polling) don't
// starve the queue.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c.sem <- struct{}{}:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			<-c.sem
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		dispatched := false
		for msg := range msgs.Messages() {
			dispatched = true
			c.wg.Add(1)
			go func(m jetstream.Msg) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.handleTask(ctx, m)
			}(msg)
		}
		if !dispatched {
			<-c.sem
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// Stop halts consumption and waits briefly for in-flight links.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("Timed out waiting for in-flight links")
	}

	c.logger.Info("link-executor stopped",
		"tasks_processed", c.tasksProcessed.Load(),
		"links_succeeded", c.linksSucceeded.Load(),
		"links_failed", c.linksFailed.Load(),
		"orders_finished", c.ordersFinished.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "link-executor",
		Type:        "processor",
		Description: "Executes supply chain links against third-party provider APIs",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return executorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.linksFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// IsRunning returns whether the component is running.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
