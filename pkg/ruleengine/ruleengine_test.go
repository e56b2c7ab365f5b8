package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/types"
)

func TestMatchOrdersByPriorityThenID(t *testing.T) {
	tests := []struct {
		name     string
		rules    []*types.RoutingRule
		path     string
		expected []string
	}{
		{
			name: "higher priority first",
			rules: []*types.RoutingRule{
				{ID: "r1", Pattern: "**/*.csv", Tag: "low", Priority: 1, Enabled: true},
				{ID: "r2", Pattern: "**/*.csv", Tag: "high", Priority: 10, Enabled: true},
			},
			path:     "data/a.csv",
			expected: []string{"high", "low"},
		},
		{
			name: "ties broken by id ascending",
			rules: []*types.RoutingRule{
				{ID: "r2", Pattern: "**/*.csv", Tag: "second", Priority: 5, Enabled: true},
				{ID: "r1", Pattern: "**/*.csv", Tag: "first", Priority: 5, Enabled: true},
			},
			path:     "data/a.csv",
			expected: []string{"first", "second"},
		},
		{
			name: "disabled rules never match",
			rules: []*types.RoutingRule{
				{ID: "r1", Pattern: "**/*.csv", Tag: "nope", Priority: 5, Enabled: false},
			},
			path:     "data/a.csv",
			expected: nil,
		},
		{
			name: "no match",
			rules: []*types.RoutingRule{
				{ID: "r1", Pattern: "**/*.json", Tag: "json", Priority: 1, Enabled: true},
			},
			path:     "data/a.csv",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.rules)
			require.NoError(t, err)

			tags, err := e.Match(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tags)
		})
	}
}

func TestReloadRejectsInvalidPatternKeepsPrevious(t *testing.T) {
	e, err := New([]*types.RoutingRule{
		{ID: "r1", Pattern: "**/*.csv", Tag: "csv", Priority: 1, Enabled: true},
	})
	require.NoError(t, err)

	err = e.Reload([]*types.RoutingRule{
		{ID: "r1", Pattern: "[", Tag: "bad", Priority: 1, Enabled: true},
	})
	assert.Error(t, err)

	tags, err := e.Match("a.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"csv"}, tags)
}
