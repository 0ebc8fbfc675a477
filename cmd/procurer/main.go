// Package main provides the procurer binary entry point.
// Procurer runs supply chains of third-party API calls: it validates
// input, queues links on a JetStream work queue, executes them with
// credential selection and rate limiting, and stores the results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harborline/procurer/config"
	"github.com/harborline/procurer/handler"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "procurer"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath string
	natsURL    string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:   "procurer",
		Short: "Supply chain executor for third-party data APIs",
		Long: `Procurer runs configured supply chains against third-party APIs.

A supply chain is an ordered list of links, each calling one provider
endpoint. Input flows through field couplings into the first link; each
link's response feeds the next. Credentials and rate limits are enforced
per call, and every call leaves a durable stamp and manifest.

Run without a subcommand to start the executor daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.natsURL, "nats-url", "", "NATS server URL (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	cmd.AddCommand(submitCmd(opts))
	cmd.AddCommand(statusCmd(opts))
	cmd.AddCommand(resultsCmd(opts))
	cmd.AddCommand(catalogCmd(opts))

	return cmd
}

func setup(opts *cliOptions) (*config.Config, *slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(opts.logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
		if err != nil {
			return nil, nil, err
		}
	}

	if envURL := os.Getenv("NATS_URL"); envURL != "" && opts.natsURL == "" {
		opts.natsURL = envURL
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
		cfg.NATS.Embedded = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

func runDaemon(opts *cliOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := app.Start(signalCtx, true); err != nil {
		return err
	}

	logger.Info("Procurer running", "version", Version)

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	app.Shutdown(30 * time.Second)
	logger.Info("Procurer shutdown complete")
	return nil
}

// withApp runs a one-shot command against a started app without the
// executor, shutting everything down afterwards.
func withApp(opts *cliOptions, fn func(ctx context.Context, app *App) error) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Shutdown(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := app.Start(ctx, false); err != nil {
		return err
	}
	return fn(ctx, app)
}

func submitCmd(opts *cliOptions) *cobra.Command {
	var (
		user   string
		fields []string
	)

	cmd := &cobra.Command{
		Use:   "submit <procurement-id>",
		Short: "Submit a supply order for a procurement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseFields(fields)
			if err != nil {
				return err
			}

			return withApp(opts, func(ctx context.Context, app *App) error {
				o, err := app.Orders.Submit(ctx, args[0], user, input)
				if err != nil {
					return err
				}
				fmt.Printf("Submitted supply order %s (procurement %s)\n", o.ID, o.ProcurementID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Submitting user")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "Input field as key=value (repeatable)")
	return cmd
}

func statusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id>",
		Short: "Show a supply order and its manifests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				status, err := app.Orders.Get(ctx, args[0])
				if err != nil {
					return err
				}

				o := status.Order
				fmt.Printf("Order:       %s\n", o.ID)
				fmt.Printf("Procurement: %s\n", o.ProcurementID)
				fmt.Printf("State:       %s\n", o.State)
				if o.DocID != "" {
					fmt.Printf("Document:    %s (%s)\n", o.DocID, o.StorageRef)
				}
				fmt.Printf("Manifests:   %d\n", len(status.Manifests))
				for _, m := range status.Manifests {
					fmt.Printf("  [%d] stamp=%s\n", m.Position, m.StampID)
				}
				return nil
			})
		},
	}
}

func resultsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "results <order-id>",
		Short: "Print the stored document of a completed order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, app *App) error {
				data, err := app.Orders.Results(ctx, args[0])
				if err != nil {
					return err
				}

				out, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
}

func catalogCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List configured procurements and registered handlers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}

			app, err := NewApp(cfg, logger)
			if err != nil {
				return err
			}
			app.registerHandlers()

			fmt.Println("Procurements:")
			for _, p := range app.catalog.Procurements() {
				chain := p.Chain
				fmt.Printf("  %s (%s): %d link(s), platform %s\n",
					p.ID, p.Name, len(chain.Links), chain.Platform())
			}

			fmt.Println("Handlers:")
			for _, key := range handler.List() {
				fmt.Printf("  %s\n", key)
			}
			return nil
		},
	}
}

// parseFields converts repeated key=value flags into an input map.
func parseFields(fields []string) (map[string]any, error) {
	input := make(map[string]any, len(fields))
	for _, f := range fields {
		key, value, found := strings.Cut(f, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", f)
		}
		input[key] = value
	}
	return input, nil
}
