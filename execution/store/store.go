// Package store implements the Execution Store (C3): a hybrid of in-memory
// live instances (Created/Running/Paused, held for full-fidelity access to
// the live engine and context) and durable terminal records
// (Completed/Failed/Stopped), behind one interface. Get is memory-first,
// durable-fallback; List is the sorted, memory-wins merge.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chaingraphlabs/chaingraph/execution/execerr"
	"github.com/chaingraphlabs/chaingraph/execution/flow"
	"github.com/chaingraphlabs/chaingraph/execution/instance"
	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

// MaxDepth bounds the parent-link walk used to reconstruct a child's flow
// when its own serialization was omitted, and doubles as the default
// maximum nesting depth enforced at execution creation time: a depth cap
// that was only advisory for reconstruction would let a pathological chain
// of child-of-child spawns make flow reconstruction unbounded too.
const MaxDepth = 100

// Record is the durable representation of a terminal ExecutionInstance.
// FlowData is populated only for root instances; children omit it and are
// reconstructed by walking ParentExecutionID.
type Record struct {
	ID                 string
	FlowID             string
	ParentExecutionID  string
	Status             instance.Status
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	ErrorMessage       string
	ErrorNodeID        string
	ExecutionDepth     int
	ExternalEvents     []instance.ExternalEvent
	FlowName           string
	FlowData           []byte
	ContextEventData   *instance.EventData
	ChildExecutionIDs  []string
}

// Backend is the durable seam terminal records are persisted to.
type Backend interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// Options configures a Store.
type Options struct {
	Logger telemetry.Logger
}

// Store is the hybrid Execution Store.
type Store struct {
	backend Backend
	log     telemetry.Logger

	mu   sync.RWMutex
	live map[string]*instance.Instance
}

// New constructs a Store persisting terminal records to backend.
func New(backend Backend, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Store{backend: backend, log: log, live: make(map[string]*instance.Instance)}
}

// Create is an upsert. Live-status instances are held only in memory;
// terminal instances are written through to the durable backend and dropped
// from memory (their full-fidelity engine/context are no longer needed).
func (s *Store) Create(ctx context.Context, inst *instance.Instance) error {
	snap := inst.Snapshot()
	if snap.Status.Terminal() {
		rec := toRecord(inst, snap)
		if err := s.backend.Upsert(ctx, rec); err != nil {
			return execerr.Newf(execerr.StoreUnavailable, err, "failed to persist execution "+inst.ID)
		}
		s.mu.Lock()
		delete(s.live, inst.ID)
		s.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	s.live[inst.ID] = inst
	s.mu.Unlock()
	return nil
}

// Get returns the live Instance if present; otherwise it falls back to the
// durable backend and reconstructs a read-only Instance (no live Engine).
// A child record missing its own flow serialization has its flow
// reconstructed by walking ParentExecutionID up to MaxDepth; if no ancestor
// carries a serialized flow, a minimal shell is returned.
func (s *Store) Get(ctx context.Context, id string) (*instance.Instance, error) {
	s.mu.RLock()
	if live, ok := s.live[id]; ok {
		s.mu.RUnlock()
		return live, nil
	}
	s.mu.RUnlock()

	rec, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, execerr.Newf(execerr.StoreUnavailable, err, "failed to load execution "+id)
	}
	if !ok {
		return nil, execerr.New(execerr.NotFound, "execution "+id+" not found")
	}

	f, err := s.reconstructFlow(ctx, rec, 0)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec, f), nil
}

// reconstructFlow walks parent links to find the nearest ancestor carrying a
// serialized flow. depth guards against an unexpectedly long or cyclic
// parent chain; it is distinct from ExecutionDepth (the spawn-depth
// invariant enforced at creation time) but shares the same ceiling.
func (s *Store) reconstructFlow(ctx context.Context, rec Record, depth int) (*flow.Flow, error) {
	if len(rec.FlowData) > 0 {
		f, err := flow.Deserialize(rec.FlowData)
		if err != nil {
			return nil, execerr.Newf(execerr.Internal, err, "failed to deserialize flow for "+rec.ID)
		}
		return f, nil
	}
	if rec.ParentExecutionID == "" || depth >= MaxDepth {
		return flow.Shell(rec.ID, rec.FlowName), nil
	}
	parent, ok, err := s.backend.Get(ctx, rec.ParentExecutionID)
	if err != nil {
		return nil, execerr.Newf(execerr.StoreUnavailable, err, "failed to load parent "+rec.ParentExecutionID)
	}
	if !ok {
		// A durable miss covers both a parent that no longer exists and one
		// still live in memory; the live tier is not consulted, so either
		// way the shell is returned.
		return flow.Shell(rec.ID, rec.FlowName), nil
	}
	return s.reconstructFlow(ctx, parent, depth+1)
}

// Delete removes id from both the in-memory index and the durable backend.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	if err := s.backend.Delete(ctx, id); err != nil {
		return execerr.Newf(execerr.StoreUnavailable, err, "failed to delete execution "+id)
	}
	return nil
}

// List returns the memory/durable union, memory taking precedence on id
// collision, sorted by CreatedAt descending. limit <= 0 means unbounded.
func (s *Store) List(ctx context.Context, limit int) ([]instance.Snapshot, error) {
	s.mu.RLock()
	seen := make(map[string]bool, len(s.live))
	out := make([]instance.Snapshot, 0, len(s.live))
	for id, inst := range s.live {
		seen[id] = true
		out = append(out, inst.Snapshot())
	}
	s.mu.RUnlock()

	durableLimit := limit
	if durableLimit > 0 {
		durableLimit += len(seen)
	}
	recs, err := s.backend.List(ctx, durableLimit)
	if err != nil {
		return nil, execerr.Newf(execerr.StoreUnavailable, err, "failed to list executions")
	}
	for _, rec := range recs {
		if seen[rec.ID] {
			continue
		}
		out = append(out, recordSnapshot(rec))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func toRecord(inst *instance.Instance, snap instance.Snapshot) Record {
	rec := Record{
		ID:                snap.ID,
		ParentExecutionID: snap.ParentExecutionID,
		Status:            snap.Status,
		CreatedAt:         snap.CreatedAt,
		StartedAt:         snap.StartedAt,
		CompletedAt:       snap.CompletedAt,
		ExecutionDepth:    snap.ExecutionDepth,
		ExternalEvents:    snap.ExternalEvents,
		ChildExecutionIDs: snap.ChildExecutionIDs,
	}
	if snap.Err != nil {
		rec.ErrorMessage = snap.Err.Message
		rec.ErrorNodeID = snap.Err.NodeID
	}
	if inst.Flow != nil {
		rec.FlowID = inst.Flow.ID
		rec.FlowName = inst.Flow.Name
	}
	if inst.Context != nil {
		rec.ContextEventData = inst.Context.EventData
	}
	// Root instances retain their full flow serialization; children omit it
	// and are reconstructed by walking ParentExecutionID instead, since a
	// child's flow is fully derivable from its parent plus its seed event.
	if snap.ParentExecutionID == "" && inst.Flow != nil {
		if data, err := inst.Flow.Serialize(); err == nil {
			rec.FlowData = data
		}
	}
	return rec
}

func fromRecord(rec Record, f *flow.Flow) *instance.Instance {
	inst := &instance.Instance{
		ID:                rec.ID,
		Flow:              f,
		Status:            rec.Status,
		CreatedAt:         rec.CreatedAt,
		StartedAt:         rec.StartedAt,
		CompletedAt:       rec.CompletedAt,
		ParentExecutionID: rec.ParentExecutionID,
		ExecutionDepth:    rec.ExecutionDepth,
		ExternalEvents:    rec.ExternalEvents,
		ChildExecutionIDs: rec.ChildExecutionIDs,
	}
	if rec.ErrorMessage != "" {
		inst.Err = &instance.Error{Message: rec.ErrorMessage, NodeID: rec.ErrorNodeID}
	}
	if rec.ContextEventData != nil {
		inst.Context = &instance.Context{ExecutionID: rec.ID, EventData: rec.ContextEventData}
	}
	return inst
}

func recordSnapshot(rec Record) instance.Snapshot {
	snap := instance.Snapshot{
		ID:                rec.ID,
		Status:            rec.Status,
		CreatedAt:         rec.CreatedAt,
		StartedAt:         rec.StartedAt,
		CompletedAt:       rec.CompletedAt,
		ParentExecutionID: rec.ParentExecutionID,
		ExecutionDepth:    rec.ExecutionDepth,
		ExternalEvents:    rec.ExternalEvents,
		ChildExecutionIDs: rec.ChildExecutionIDs,
	}
	if rec.ErrorMessage != "" {
		snap.Err = &instance.Error{Message: rec.ErrorMessage, NodeID: rec.ErrorNodeID}
	}
	return snap
}
