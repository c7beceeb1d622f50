package service

import "sync"

// childTracker tracks one parent's outstanding (non-terminal) children and
// the parent's own deferred completion outcome: a parent whose engine
// reaches a terminal state while children are still running defers that
// outcome until the last child drains.
type childTracker struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	waiters  []chan struct{}
	deferred *deferredCompletion
}

type deferredCompletion struct {
	status  string
	message string
	nodeID  string
}

func newChildTracker() *childTracker {
	return &childTracker{pending: make(map[string]struct{})}
}

func (t *childTracker) add(childID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[childID] = struct{}{}
}

func (t *childTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// removeAndTakeDeferred drops childID from the pending set. If that drains
// the set to empty, it also claims any deferred parent outcome (so the
// caller can apply it) without yet waking waiters — waiters must not
// observe the drained set until the deferred outcome (if any) has been
// applied, or a waiter could race ahead and see a stale "still Running"
// parent status.
func (t *childTracker) removeAndTakeDeferred(childID string) (empty bool, deferred *deferredCompletion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, childID)
	empty = len(t.pending) == 0
	if empty {
		deferred = t.deferred
		t.deferred = nil
	}
	return empty, deferred
}

// releaseWaiters wakes everyone blocked in wait(). Call only after any
// deferred completion has already been applied.
func (t *childTracker) releaseWaiters() {
	t.mu.Lock()
	ws := t.waiters
	t.waiters = nil
	t.mu.Unlock()
	for _, w := range ws {
		close(w)
	}
}

// wait blocks until the pending set is empty. Children added after the call
// are waited for as well; it does not return early once only the children
// registered at call time have drained.
func (t *childTracker) wait() {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()
	<-ch
}

// setDeferred records the parent's engine-reached terminal outcome for
// notifyParent to apply once children drain. The first call wins; later
// calls (e.g. a node failure racing a cancellation) are ignored.
func (t *childTracker) setDeferred(d deferredCompletion) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.deferred == nil {
		t.deferred = &d
	}
}
