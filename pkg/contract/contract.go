// Package contract implements the validation gate (spec §4.6 step 4): the
// last line of defense between a plugin's raw output rows and the sink.
// Every cell is parsed into its contract type, not merely checked against
// it — a row that cannot be parsed is quarantined with the column, raw
// value, and reason, never silently dropped or coerced to a zero value.
package contract

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/casparian/flow/pkg/types"
)

// Row is one plugin-produced record: column name to raw string value, as
// received over the wire before coercion.
type Row map[string]string

// CoercedRow is a Row after every column has been parsed into its
// contract type.
type CoercedRow map[string]any

// Gate validates and coerces rows against a single SchemaContract.
type Gate struct {
	contract types.SchemaContract
	byName   map[string]types.ColumnContract
}

// NewGate builds a Gate for contract. It rejects a contract that declares
// an invalid ColumnType up front, rather than failing lazily per row.
func NewGate(contract types.SchemaContract) (*Gate, error) {
	byName := make(map[string]types.ColumnContract, len(contract.Columns))
	for _, col := range contract.Columns {
		if !col.Type.Valid() {
			return nil, fmt.Errorf("contract: column %s has invalid type %q", col.Name, col.Type)
		}
		byName[col.Name] = col
	}
	return &Gate{contract: contract, byName: byName}, nil
}

// Check coerces one row. It returns the coerced row and, separately, any
// QuarantinedRow entries for cells that failed to parse or violated
// nullability — the caller decides whether a row with any quarantined
// cell is dropped entirely or partially accepted, per sink policy.
func (g *Gate) Check(row Row, jobID string, batchSeq, rowIndex int) (CoercedRow, []types.QuarantinedRow) {
	out := make(CoercedRow, len(g.byName))
	var quarantined []types.QuarantinedRow

	for name, col := range g.byName {
		raw, present := row[name]
		if !present || raw == "" {
			if col.Nullable {
				out[name] = nil
				continue
			}
			quarantined = append(quarantined, types.QuarantinedRow{
				JobID: jobID, BatchSeq: batchSeq, RowIndex: rowIndex,
				Column: name, RawValue: raw, Reason: "required column missing",
			})
			continue
		}

		val, err := coerce(col, raw)
		if err != nil {
			quarantined = append(quarantined, types.QuarantinedRow{
				JobID: jobID, BatchSeq: batchSeq, RowIndex: rowIndex,
				Column: name, RawValue: raw, Reason: err.Error(),
			})
			continue
		}
		out[name] = val
	}

	return out, quarantined
}

func coerce(col types.ColumnContract, raw string) (any, error) {
	switch col.Type {
	case types.ColumnString:
		return raw, nil

	case types.ColumnInt32:
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("not a valid int32: %v", err)
		}
		return int32(v), nil

	case types.ColumnInt64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid int64: %v", err)
		}
		return v, nil

	case types.ColumnFloat64:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("not a valid float64: %v", err)
		}
		return v, nil

	case types.ColumnBool:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("not a valid bool: %v", err)
		}
		return v, nil

	case types.ColumnDecimal:
		return coerceDecimal(raw, col.DecimalScale)

	case types.ColumnTime:
		return coerceTime(raw, col.Timezone)

	default:
		return nil, fmt.Errorf("unsupported column type %q", col.Type)
	}
}

// coerceDecimal parses raw as a fixed-point decimal scaled to scale
// digits, returning the scaled integer value (the caller's sink writes
// it as a parquet DECIMAL with the same scale).
func coerceDecimal(raw string, scale int) (int64, error) {
	neg := strings.HasPrefix(raw, "-")
	trimmed := strings.TrimPrefix(raw, "-")

	intPart, fracPart, hasFrac := strings.Cut(trimmed, ".")
	if hasFrac && len(fracPart) > scale {
		return 0, fmt.Errorf("decimal %q has more than %d fractional digits", raw, scale)
	}
	for len(fracPart) < scale {
		fracPart += "0"
	}

	digits := intPart + fracPart
	if digits == "" {
		return 0, fmt.Errorf("empty decimal value")
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a valid decimal: %v", err)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// coerceTime parses raw as RFC 3339 and attaches tz (defaulting to UTC)
// per the contract's normalization rule.
func coerceTime(raw, tz string) (time.Time, error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("unknown timezone %q: %v", tz, err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a valid RFC3339 timestamp: %v", err)
	}
	return t.In(loc), nil
}
