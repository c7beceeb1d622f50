package service

import "github.com/chaingraphlabs/chaingraph/execution/instance"

// GroupExternalEvents partitions events into maximal consecutive runs with
// no type repetition: walk left-to-right, opening a new group each time the
// current event's type is already present in the current group. It is a
// pure function, independently testable from the rest of the orchestrator;
// the resulting groups are preserved only for tracing — every event spawns
// exactly one child, in input order, regardless of grouping.
func GroupExternalEvents(events []instance.ExternalEvent) [][]instance.ExternalEvent {
	var groups [][]instance.ExternalEvent
	var current []instance.ExternalEvent
	seen := make(map[string]bool)

	for _, e := range events {
		if seen[e.Type] {
			groups = append(groups, current)
			current = nil
			seen = make(map[string]bool)
		}
		current = append(current, e)
		seen[e.Type] = true
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
