// Package config loads execd's YAML configuration file into the plain
// knobs each execution-core component already exposes as an Options/Config
// struct with documented defaults: queue capacities, event-store batching,
// cleanup cadence, and the Mongo connection used by the durable backends.
// It owns no behavior of its own — cmd/execd reads a Config and passes its
// fields straight into store.Options, queue.Options, etc.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaingraphlabs/chaingraph/execution/cleanup"
	"github.com/chaingraphlabs/chaingraph/execution/eventstore"
	"github.com/chaingraphlabs/chaingraph/execution/queue"
)

// Queue configures the Event Queue (C1). The registry applies Capacity to
// every execution's queue uniformly; a lower child-execution capacity is a
// per-queue override callers can still pass directly to queue.New where
// finer control is needed.
type Queue struct {
	Capacity int `yaml:"capacity"`
}

// EventStore configures the Event Store (C2) batching.
type EventStore struct {
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
}

// Cleanup configures the Cleanup Service (C6) reaper cadence.
type Cleanup struct {
	MaxAge        time.Duration `yaml:"maxAge"`
	Interval      time.Duration `yaml:"interval"`
	MaxExecutions int           `yaml:"maxExecutions"`
}

// Mongo configures the durable backends for C2/C3. Database is required
// when Mongo is used; URI defaults to a local instance for development.
type Mongo struct {
	URI                 string        `yaml:"uri"`
	Database            string        `yaml:"database"`
	EventCollection     string        `yaml:"eventCollection"`
	ExecutionCollection string        `yaml:"executionCollection"`
	Timeout             time.Duration `yaml:"timeout"`
}

// Server configures execd's own listener.
type Server struct {
	Addr string `yaml:"addr"`
}

// Config is execd's full configuration surface.
type Config struct {
	Server     Server     `yaml:"server"`
	Queue      Queue      `yaml:"queue"`
	EventStore EventStore `yaml:"eventStore"`
	Cleanup    Cleanup    `yaml:"cleanup"`
	Mongo      Mongo      `yaml:"mongo"`
}

// Default returns a Config populated with every component's documented
// default, suitable for running without a config file.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080"},
		Queue: Queue{
			Capacity: queue.DefaultCapacity,
		},
		EventStore: EventStore{
			BatchSize:    eventstore.DefaultBatchSize,
			BatchTimeout: eventstore.DefaultBatchTimeout,
		},
		Cleanup: Cleanup{
			MaxAge:        cleanup.DefaultMaxAge,
			Interval:      cleanup.DefaultInterval,
			MaxExecutions: cleanup.DefaultMaxExecutions,
		},
		Mongo: Mongo{
			URI:                 "mongodb://localhost:27017",
			Database:            "chaingraph_execd",
			EventCollection:     "execution_events",
			ExecutionCollection: "executions",
			Timeout:             10 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file at path, starting from Default()
// so an omitted section keeps its documented default rather than zeroing
// out.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
