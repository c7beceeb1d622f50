// Command execd runs the execution core as a standalone process: it wires
// the Event Queue, Event Store, Execution Store, Execution Engine,
// Execution Service, and Cleanup Service together from a config file (or
// documented defaults) and keeps the Cleanup Service's reaper running
// until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chaingraphlabs/chaingraph/execution/cleanup"
	"github.com/chaingraphlabs/chaingraph/execution/config"
	"github.com/chaingraphlabs/chaingraph/execution/eventstore"
	eventstoremongo "github.com/chaingraphlabs/chaingraph/execution/eventstore/mongostore"
	"github.com/chaingraphlabs/chaingraph/execution/queue"
	"github.com/chaingraphlabs/chaingraph/execution/service"
	"github.com/chaingraphlabs/chaingraph/execution/store"
	storemongo "github.com/chaingraphlabs/chaingraph/execution/store/mongostore"
	"github.com/chaingraphlabs/chaingraph/execution/telemetry/clue"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "execd",
		Short: "Run the chaingraph execution core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to execd.yaml (defaults used if omitted)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print execd's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the execution service and its cleanup reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if *configPath != "" {
				loaded, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve wires every component per the ambient Options/New(opts) pattern and
// blocks until SIGINT/SIGTERM.
func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := clue.NewLogger()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("execd: connect mongo: %w", err)
	}
	defer func() { _ = mongoClient.Disconnect(ctx) }()

	execBackend, err := storemongo.New(ctx, storemongo.Options{
		Client:     mongoClient,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.ExecutionCollection,
		Timeout:    cfg.Mongo.Timeout,
	})
	if err != nil {
		return fmt.Errorf("execd: init execution store: %w", err)
	}
	eventBackend, err := eventstoremongo.New(ctx, eventstoremongo.Options{
		Client:     mongoClient,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.EventCollection,
		Timeout:    cfg.Mongo.Timeout,
	})
	if err != nil {
		return fmt.Errorf("execd: init event store: %w", err)
	}

	execStore := store.New(execBackend, store.Options{Logger: log})
	eventStore := eventstore.New(eventBackend, eventstore.Options{
		BatchSize:    cfg.EventStore.BatchSize,
		BatchTimeout: cfg.EventStore.BatchTimeout,
		Logger:       log,
	})
	defer eventStore.FlushAll(context.Background())

	queues := queue.NewRegistry(queue.Options{Capacity: cfg.Queue.Capacity})

	svc := service.New(service.Options{
		Store:      execStore,
		EventStore: eventStore,
		Queues:     queues,
		Logger:     log,
	})

	reaper := cleanup.New(execStore, svc, cleanup.Options{
		MaxAge:        cfg.Cleanup.MaxAge,
		Interval:      cfg.Cleanup.Interval,
		MaxExecutions: cfg.Cleanup.MaxExecutions,
		Logger:        log,
	})
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("execd: start cleanup service: %w", err)
	}
	defer reaper.Stop()

	log.Info(ctx, "execd started", "addr", cfg.Server.Addr)
	<-ctx.Done()
	log.Info(ctx, "execd shutting down")
	return nil
}
