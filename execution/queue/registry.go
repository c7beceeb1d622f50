package queue

import "sync"

// Registry is a thread-safe, get-or-create index of Queues keyed by
// executionId, owned by the Execution Service and lifetimed with each
// execution. The get-or-create path is a single locked upsert rather than a
// read-then-write under multiple locks, so two concurrent callers creating
// the same execution's queue never race.
type Registry struct {
	opts Options

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry constructs an empty Registry. opts is applied to every queue
// the registry creates.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, queues: make(map[string]*Queue)}
}

// GetOrCreate returns the Queue for executionId, creating it if absent.
func (r *Registry) GetOrCreate(executionID string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[executionID]; ok {
		return q
	}
	q := New(executionID, r.opts)
	r.queues[executionID] = q
	return q
}

// Get returns the Queue for executionId, if one exists.
func (r *Registry) Get(executionID string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[executionID]
	return q, ok
}

// Remove drops executionId from the registry without closing its queue;
// callers close the queue themselves (via Queue.Close) before or after
// removing it, so OnClose handlers still observe the final state.
func (r *Registry) Remove(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, executionID)
}
