package sink

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/casparian/flow/pkg/types"
)

func TestBuildSchemaIncludesLineageColumns(t *testing.T) {
	contract := types.SchemaContract{Columns: []types.ColumnContract{
		{Name: "id", Type: types.ColumnInt64, Nullable: false},
		{Name: "note", Type: types.ColumnString, Nullable: true},
	}}

	raw, err := BuildSchema(contract)
	require.NoError(t, err)

	var decoded jsonSchema
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))

	assert.Len(t, decoded.Fields, 2+len(lineageFields))
	assert.Contains(t, decoded.Fields[0].Tag, "name=id")
	assert.Contains(t, decoded.Fields[0].Tag, "repetitiontype=REQUIRED")
	assert.Contains(t, decoded.Fields[1].Tag, "repetitiontype=OPTIONAL")
}

func TestBuildSchemaRejectsUnsupportedType(t *testing.T) {
	_, err := BuildSchema(types.SchemaContract{Columns: []types.ColumnContract{
		{Name: "bad", Type: types.ColumnType("nope")},
	}})
	assert.Error(t, err)
}

func TestNewWriterBuildsSchemaEagerly(t *testing.T) {
	w, err := NewWriter("/tmp/unused.parquet", types.SinkModeAppend, types.SchemaContract{
		Columns: []types.ColumnContract{{Name: "id", Type: types.ColumnInt64}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.schema)
}

// TestWriterCommitAccumulatesAcrossBatches guards against a writer that
// reopens and truncates the file on every Commit: a job committing more
// than one batch to the same topic must see every row survive, not just
// the rows from the final Commit.
func TestWriterCommitAccumulatesAcrossBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	w, err := NewWriter(path, types.SinkModeAppend, types.SchemaContract{
		Columns: []types.ColumnContract{{Name: "id", Type: types.ColumnInt64}},
	})
	require.NoError(t, err)

	require.NoError(t, w.Commit([]map[string]any{{"id": int64(1)}, {"id": int64(2)}}))
	require.NoError(t, w.Commit([]map[string]any{{"id": int64(3)}}))
	require.NoError(t, w.Close())

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 4)
	require.NoError(t, err)
	defer pr.ReadStop()

	assert.EqualValues(t, 3, pr.GetNumRows())
}
