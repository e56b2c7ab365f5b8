// Package sink writes validated, lineage-stamped rows to the columnar
// output the rest of spec.md calls simply "the sink": a row-group
// oriented, append-only Parquet file per (plugin, topic), written through
// github.com/xitongsys/parquet-go — the only columnar library anywhere in
// the retrieved example pack (sourced from the steveyegge-beads manifest,
// not the teacher, which has no columnar output concern at all).
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	source "github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	coresource "github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/casparian/flow/pkg/types"
)

// lineageFields are appended to every contract's JSON schema; the worker
// stamps them on every row and a plugin cannot forge them (spec §3).
var lineageFields = []schemaField{
	{Tag: "name=_cf_source_hash, type=BYTE_ARRAY, convertedtype=UTF8"},
	{Tag: "name=_cf_job_id, type=BYTE_ARRAY, convertedtype=UTF8"},
	{Tag: "name=_cf_processed_at, type=BYTE_ARRAY, convertedtype=UTF8"},
	{Tag: "name=_cf_parser_version, type=BYTE_ARRAY, convertedtype=UTF8"},
}

type schemaField struct {
	Tag string `json:"Tag"`
}

type jsonSchema struct {
	Tag    string        `json:"Tag"`
	Fields []schemaField `json:"Fields"`
}

// BuildSchema renders contract (plus the lineage columns) into the JSON
// schema string parquet-go's writer.NewParquetWriter expects.
func BuildSchema(contract types.SchemaContract) (string, error) {
	fields := make([]schemaField, 0, len(contract.Columns)+len(lineageFields))
	for _, col := range contract.Columns {
		tag, err := columnTag(col)
		if err != nil {
			return "", err
		}
		fields = append(fields, schemaField{Tag: tag})
	}
	fields = append(fields, lineageFields...)

	schema := jsonSchema{Tag: "name=casparian_row", Fields: fields}
	out, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("sink: marshal schema: %w", err)
	}
	return string(out), nil
}

func columnTag(col types.ColumnContract) (string, error) {
	repetition := "REQUIRED"
	if col.Nullable {
		repetition = "OPTIONAL"
	}

	var typeTag string
	switch col.Type {
	case types.ColumnString:
		typeTag = "type=BYTE_ARRAY, convertedtype=UTF8"
	case types.ColumnInt32:
		typeTag = "type=INT32"
	case types.ColumnInt64:
		typeTag = "type=INT64"
	case types.ColumnFloat64:
		typeTag = "type=DOUBLE"
	case types.ColumnBool:
		typeTag = "type=BOOLEAN"
	case types.ColumnDecimal:
		typeTag = "type=INT64, convertedtype=DECIMAL, scale=" + itoa(col.DecimalScale) + ", precision=18"
	case types.ColumnTime:
		typeTag = "type=INT64, convertedtype=TIMESTAMP_MICROS"
	default:
		return "", fmt.Errorf("sink: column %s has unsupported type %q", col.Name, col.Type)
	}

	return fmt.Sprintf("name=%s, %s, repetitiontype=%s", col.Name, typeTag, repetition), nil
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}

// Writer commits batches of coerced rows to one Parquet file across the
// whole lifetime of a job. A Writer is not safe for concurrent use; the
// worker serializes commits per (plugin, topic) the same way it
// serializes everything else about a single job.
type Writer struct {
	mu       sync.Mutex
	path     string
	mode     types.SinkMode
	schema   string
	rowGroup int64

	fw coresource.ParquetFile
	pw *writer.JSONWriter
}

// NewWriter prepares a Writer for path under the given schema. It does
// not open the file until the first Commit; opening lazily means a topic
// that never produces rows leaves no empty file behind.
func NewWriter(path string, mode types.SinkMode, contract types.SchemaContract) (*Writer, error) {
	schema, err := BuildSchema(contract)
	if err != nil {
		return nil, err
	}
	return &Writer{path: path, mode: mode, schema: schema, rowGroup: 128 * 1024 * 1024}, nil
}

// Commit appends rows to the sink file without finalizing it, so a job
// that commits many batches to the same topic accumulates row groups
// instead of overwriting the previous batch. The row group is only
// flushed to a readable footer when Close is called at the end of the
// job. Commit keeps no per-(job_id, batch_seq) record of what was already
// written, and nothing in the catalog tracks one either: every call
// writes the rows it is given.
func (w *Writer) Commit(rows []map[string]any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	if w.pw == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("sink: marshal row: %w", err)
		}
		if err := w.pw.Write(string(data)); err != nil {
			return fmt.Errorf("sink: write row: %w", err)
		}
	}
	return nil
}

// open creates (or truncates, under SinkModeOverwrite) the backing file
// and the single ParquetWriter that lives for the rest of the job.
func (w *Writer) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("sink: mkdir: %w", err)
	}

	if w.mode == types.SinkModeOverwrite {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("sink: truncate for overwrite: %w", err)
		}
	}

	fw, err := source.NewLocalFileWriter(w.path)
	if err != nil {
		return fmt.Errorf("sink: open %s: %w", w.path, err)
	}

	pw, err := writer.NewJSONWriter(w.schema, fw, 4)
	if err != nil {
		fw.Close()
		return fmt.Errorf("sink: new parquet writer: %w", err)
	}
	pw.RowGroupSize = w.rowGroup
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	w.fw = fw
	w.pw = pw
	return nil
}

// Close finalizes the Parquet footer and closes the backing file. It is
// called exactly once, when the job that owns this Writer concludes
// (either successfully or with a failure that still wants whatever rows
// were already committed to be durable). Calling Close on a Writer that
// never received a Commit is a no-op, since open() was never called.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pw == nil {
		return nil
	}
	if err := w.pw.WriteStop(); err != nil {
		w.fw.Close()
		return fmt.Errorf("sink: write stop: %w", err)
	}
	return w.fw.Close()
}
