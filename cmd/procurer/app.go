package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/harborline/procurer/config"
	"github.com/harborline/procurer/distillery"
	"github.com/harborline/procurer/executor"
	"github.com/harborline/procurer/handler"
	"github.com/harborline/procurer/handler/virustotal"
	"github.com/harborline/procurer/manifest"
	"github.com/harborline/procurer/order"
	"github.com/harborline/procurer/supplychain"
)

// App wires the procurement pipeline together: NATS, the catalog, the
// provider handlers, the submission service and the link executor.
type App struct {
	cfg     *config.Config
	catalog *config.Catalog
	logger  *slog.Logger

	embeddedServer *server.Server
	natsClient     *natsclient.Client

	Orders   *order.Service
	Store    *order.Store
	executor *executor.Component
}

// NewApp loads the catalog and creates an application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	config.InitGlobal(catalog)

	return &App{
		cfg:     cfg,
		catalog: catalog,
		logger:  logger,
	}, nil
}

// Start initializes and starts all components. When withExecutor is
// false only the submission surface is wired, for one-shot commands.
func (a *App) Start(ctx context.Context, withExecutor bool) error {
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	js, err := a.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	if err := a.ensureStream(ctx, js); err != nil {
		return err
	}

	a.registerHandlers()

	orders, err := order.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create order store: %w", err)
	}
	a.Store = orders

	manifests, err := manifest.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create manifest store: %w", err)
	}

	docs, err := distillery.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("create document store: %w", err)
	}

	a.Orders = order.NewService(a.catalog, orders, manifests, a.natsClient, docs, a.logger)

	if withExecutor {
		if err := a.startExecutor(ctx); err != nil {
			return err
		}
	}

	a.logger.Info("Procurer ready",
		"procurements", len(a.catalog.Procurements()),
		"handlers", len(handler.List()))
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	url := a.cfg.NATS.URL

	if url == "" || a.cfg.NATS.Embedded {
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			StoreDir:  a.cfg.NATS.StoreDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns
		url = ns.ClientURL()
	}

	a.logger.Info("Connecting to NATS", "url", url)
	client, err := natsclient.NewClient(url,
		natsclient.WithName("procurer"),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("wait for NATS connection: %w", err)
	}

	a.natsClient = client
	return nil
}

// ensureStream creates the work-queue stream carrying link tasks.
func (a *App) ensureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      supplychain.StreamName,
		Subjects:  []string{supplychain.SubjectPrefix},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", supplychain.StreamName, err)
	}
	return nil
}

// registerHandlers installs every provider handler family with the
// configured transport.
func (a *App) registerHandlers() {
	transport := handler.NewTransport(
		handler.WithHTTPClient(&http.Client{Timeout: a.cfg.HTTP.Timeout.Duration()}),
		handler.WithUserAgent(a.cfg.HTTP.UserAgent),
		handler.WithLogger(a.logger),
	)

	virustotal.Register(virustotal.Config{
		BaseURL:   a.cfg.HTTP.VirusTotalBaseURL,
		Transport: transport,
	})
}

func (a *App) startExecutor(ctx context.Context) error {
	execCfg := executor.DefaultConfig()
	if a.cfg.Executor.MaxConcurrent > 0 {
		execCfg.MaxConcurrent = a.cfg.Executor.MaxConcurrent
	}
	if a.cfg.Executor.HandlerTimeout > 0 {
		execCfg.HandlerTimeout = a.cfg.Executor.HandlerTimeout.Duration().String()
	}
	if a.cfg.Executor.AckWait > 0 {
		execCfg.AckWait = a.cfg.Executor.AckWait.Duration().String()
	}

	cfgBytes, err := json.Marshal(execCfg)
	if err != nil {
		return fmt.Errorf("marshal executor config: %w", err)
	}

	comp, err := executor.NewComponent(cfgBytes, component.Dependencies{
		NATSClient: a.natsClient,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	c := comp.(*executor.Component)
	if err := c.Initialize(); err != nil {
		return fmt.Errorf("initialize executor: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}
	a.executor = c
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	if a.executor != nil {
		if err := a.executor.Stop(timeout); err != nil {
			a.logger.Warn("Executor stop failed", "error", err)
		}
	}

	if a.natsClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.natsClient.Close(ctx)
	}

	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}
