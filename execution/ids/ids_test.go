package ids_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaingraphlabs/chaingraph/execution/ids"
)

func TestNewExecutionID(t *testing.T) {
	id := ids.NewExecutionID()
	require.True(t, strings.HasPrefix(id, ids.ExecutionPrefix))
	assert.Len(t, id, len(ids.ExecutionPrefix)+24)
}

func TestNewEventID(t *testing.T) {
	id := ids.NewEventID()
	require.True(t, strings.HasPrefix(id, ids.EventPrefix))
	assert.Len(t, id, len(ids.EventPrefix)+24)
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := ids.NewExecutionID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id generated: %s", id)
		seen[id] = struct{}{}
	}
}

func TestNoAmbiguousCharacters(t *testing.T) {
	const ambiguous = "0O1IlUuVv"
	for i := 0; i < 200; i++ {
		id := ids.NewExecutionID()
		body := id[len(ids.ExecutionPrefix):]
		for _, r := range ambiguous {
			assert.NotContains(t, body, string(r))
		}
	}
}
