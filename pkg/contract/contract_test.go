package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/types"
)

func testContract() types.SchemaContract {
	return types.SchemaContract{Columns: []types.ColumnContract{
		{Name: "id", Type: types.ColumnInt64, Nullable: false},
		{Name: "amount", Type: types.ColumnDecimal, DecimalScale: 2, Nullable: false},
		{Name: "note", Type: types.ColumnString, Nullable: true},
		{Name: "seen_at", Type: types.ColumnTime, Timezone: "UTC", Nullable: false},
	}}
}

func TestCheck_AcceptsValidRow(t *testing.T) {
	gate, err := NewGate(testContract())
	require.NoError(t, err)

	coerced, quarantined := gate.Check(Row{
		"id":      "42",
		"amount":  "19.99",
		"note":    "",
		"seen_at": "2025-01-02T03:04:05Z",
	}, "job-1", 0, 0)

	assert.Empty(t, quarantined)
	assert.Equal(t, int64(42), coerced["id"])
	assert.Equal(t, int64(1999), coerced["amount"])
	assert.Nil(t, coerced["note"])
}

func TestCheck_QuarantinesBadValues(t *testing.T) {
	tests := []struct {
		name   string
		row    Row
		reason string
	}{
		{
			name:   "missing required column",
			row:    Row{"amount": "1.00", "seen_at": "2025-01-02T03:04:05Z"},
			reason: "required column missing",
		},
		{
			name:   "non numeric int",
			row:    Row{"id": "abc", "amount": "1.00", "seen_at": "2025-01-02T03:04:05Z"},
			reason: "not a valid int64",
		},
		{
			name:   "too many decimal digits",
			row:    Row{"id": "1", "amount": "1.999", "seen_at": "2025-01-02T03:04:05Z"},
			reason: "more than 2 fractional digits",
		},
		{
			name:   "bad timestamp",
			row:    Row{"id": "1", "amount": "1.00", "seen_at": "not-a-time"},
			reason: "not a valid RFC3339 timestamp",
		},
	}

	gate, err := NewGate(testContract())
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, quarantined := gate.Check(tt.row, "job-1", 0, 0)
			require.NotEmpty(t, quarantined)
			assert.Contains(t, quarantined[0].Reason, tt.reason)
		})
	}
}

func TestNewGateRejectsInvalidColumnType(t *testing.T) {
	_, err := NewGate(types.SchemaContract{Columns: []types.ColumnContract{
		{Name: "bad", Type: types.ColumnType("not-a-type")},
	}})
	assert.Error(t, err)
}
