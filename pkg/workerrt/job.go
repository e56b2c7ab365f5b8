package workerrt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/casparian/flow/pkg/contract"
	"github.com/casparian/flow/pkg/env"
	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/sink"
	"github.com/casparian/flow/pkg/types"
	"github.com/casparian/flow/pkg/wire"
)

// topicPipeline pairs one dispatched topic's validation gate with its
// sink, and accumulates a pending batch between commits.
type topicPipeline struct {
	spec    wire.TopicSpec
	gate    *contract.Gate
	writer  *sink.Writer
	pending []map[string]any
}

// runJob executes one dispatched job end to end and returns the
// ConcludeMsg to report back. It never returns an error itself — every
// failure mode is folded into the ConcludeMsg's Status/ErrorMessage, or
// (for malformed dispatch input the gate can't even construct from)
// logged and reported as a failed conclude.
func (rt *Runtime) runJob(d wire.DispatchMsg, abort <-chan struct{}) wire.ConcludeMsg {
	logger := rt.logger.With().Str("job_id", d.JobID).Str("plugin", d.PluginName).Logger()

	if rt.cfg.EnvCacheDir != "" {
		envDir := filepath.Join(rt.cfg.EnvCacheDir, d.PluginName)
		if _, err := os.Stat(envDir); err != nil {
			envErr := ferrors.EnvMissing(fmt.Sprintf("no prepared environment for plugin %s", d.PluginName), err)
			rt.reportErr(d.JobID, envErr, false)
			return failConclude(d.JobID, envErr.Error())
		}
	}

	pipelines := make([]*topicPipeline, 0, len(d.Topics))
	for _, spec := range d.Topics {
		contr := toSchemaContract(spec.Columns)
		gate, err := contract.NewGate(contr)
		if err != nil {
			breachErr := ferrors.ContractBreach(fmt.Sprintf("topic %s: %v", spec.TopicName, err), err)
			rt.reportErr(d.JobID, breachErr, false)
			return failConclude(d.JobID, breachErr.Error())
		}
		w, err := sink.NewWriter(spec.SinkURI, types.SinkMode(spec.Mode), contr)
		if err != nil {
			retryErr := ferrors.Retryable(fmt.Sprintf("topic %s: open sink: %v", spec.TopicName, err), err)
			rt.reportErr(d.JobID, retryErr, true)
			return failConclude(d.JobID, retryErr.Error())
		}
		pipelines = append(pipelines, &topicPipeline{spec: spec, gate: gate, writer: w})
	}
	if len(pipelines) == 0 {
		breachErr := ferrors.ContractBreach("dispatch carried no output topics", nil)
		rt.reportErr(d.JobID, breachErr, false)
		return failConclude(d.JobID, breachErr.Error())
	}
	// Each topic's Writer stays open for every Commit in this job and is
	// finalized exactly once here, on every exit path, so a job that
	// commits more than one batch doesn't discard everything but the
	// last one.
	defer func() {
		for _, p := range pipelines {
			if err := p.writer.Close(); err != nil {
				logger.Warn().Err(err).Str("topic", p.spec.TopicName).Msg("sink close failed")
			}
		}
	}()

	workDir := ""
	if rt.cfg.WorkDirRoot != "" {
		var err error
		workDir, err = os.MkdirTemp(rt.cfg.WorkDirRoot, "job-*")
		if err != nil {
			retryErr := ferrors.Retryable("create job work dir", err)
			rt.reportErr(d.JobID, retryErr, true)
			return failConclude(d.JobID, retryErr.Error())
		}
		defer os.RemoveAll(workDir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.JobTimeout)
	defer cancel()

	// Interpreter's own words (e.g. "-c", "<script>") come first; "plugin"
	// fills $0 so LocationPath lands at $1 inside an `sh -c` script, per
	// Config.Interpreter's contract with the spawned process.
	args := append(append([]string{}, rt.cfg.Interpreter[1:]...), "plugin", d.LocationPath)
	cmd := exec.CommandContext(ctx, rt.cfg.Interpreter[0], args...)
	cmd.Dir = workDir
	// The Dispatch payload carries plugin source as plaintext (it already
	// crossed the wire once under TLS-less trust between sentinel and
	// worker); env.EncodeEnv is still what base64-encodes it into the
	// child's environment so it never touches disk in decoded form.
	pluginEnv := env.EncodeEnv(&types.PluginManifest{SourceCode: d.PluginSource}, d.JobID)
	cmd.Env = append(append(os.Environ(), pluginEnv...), "CASPARIAN_LOCATION_PATH="+d.LocationPath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		retryErr := ferrors.Retryable("open plugin stdout pipe", err)
		rt.reportErr(d.JobID, retryErr, true)
		return failConclude(d.JobID, retryErr.Error())
	}
	if err := cmd.Start(); err != nil {
		retryErr := ferrors.Retryable("spawn plugin process", err)
		rt.reportErr(d.JobID, retryErr, true)
		return failConclude(d.JobID, retryErr.Error())
	}

	waitDone := make(chan error, 1)
	exited := make(chan struct{})
	go func() { waitDone <- cmd.Wait(); close(exited) }()

	go func() {
		select {
		case <-abort:
			cancel()
		case <-exited:
		}
	}()

	var accepted, quarantined int64
	batchSeq := 0
	scanErr := scanRows(stdout, func(raw contract.Row) {
		topicPipe := pipelines[0] // a plugin with one topic is the common case; spec allows multiple, routed by the "_cf_topic" column below
		if t, ok := raw["_cf_topic"]; ok {
			for _, p := range pipelines {
				if p.spec.TopicName == t {
					topicPipe = p
				}
			}
			delete(raw, "_cf_topic")
		}

		coerced, bad := topicPipe.gate.Check(raw, d.JobID, batchSeq, len(topicPipe.pending))
		if len(bad) > 0 {
			quarantined += int64(len(bad))
			for _, q := range bad {
				logger.Debug().Str("column", q.Column).Str("reason", q.Reason).Msg("quarantined cell")
			}
			return
		}

		stampLineage(coerced, d, topicPipe.spec)
		topicPipe.pending = append(topicPipe.pending, coerced)
		accepted++

		if len(topicPipe.pending) >= rt.cfg.BatchRowCount {
			if err := topicPipe.writer.Commit(topicPipe.pending); err != nil {
				logger.Warn().Err(err).Str("topic", topicPipe.spec.TopicName).Msg("sink commit failed")
			}
			topicPipe.pending = topicPipe.pending[:0]
			batchSeq++
		}
	})

	werr := <-waitDone

	select {
	case <-abort:
		return wire.ConcludeMsg{JobID: d.JobID, Status: "failed", ErrorMessage: "aborted"}
	default:
	}

	if scanErr != nil {
		inputErr := ferrors.InputInvalid("plugin output was not parseable newline-delimited JSON", scanErr)
		rt.reportErr(d.JobID, inputErr, false)
		return failConclude(d.JobID, inputErr.Error())
	}
	if werr != nil {
		retryErr := ferrors.Retryable("plugin process exited with error", werr)
		rt.reportErr(d.JobID, retryErr, true)
		return failConclude(d.JobID, retryErr.Error())
	}

	total := accepted + quarantined
	if total > 0 && float64(quarantined)/float64(total) > rt.cfg.QuarantineFraction {
		breachErr := ferrors.ContractBreach(
			fmt.Sprintf("quarantined %d/%d rows, exceeding threshold %.2f", quarantined, total, rt.cfg.QuarantineFraction),
			nil,
		)
		rt.reportErr(d.JobID, breachErr, false)
		return failConclude(d.JobID, breachErr.Error())
	}

	for _, p := range pipelines {
		if len(p.pending) == 0 {
			continue
		}
		if err := p.writer.Commit(p.pending); err != nil {
			logger.Warn().Err(err).Str("topic", p.spec.TopicName).Msg("final sink commit failed")
		}
	}

	return wire.ConcludeMsg{
		JobID:           d.JobID,
		Status:          "completed",
		RowsAccepted:    accepted,
		RowsQuarantined: quarantined,
		ResultSummary:   fmt.Sprintf("accepted=%d quarantined=%d", accepted, quarantined),
	}
}

func (rt *Runtime) reportErr(jobID string, ferr *ferrors.FlowError, retryable bool) {
	msg := wire.ErrMsg{JobID: jobID, Class: string(ferr.Class()), Message: ferr.Error(), Retryable: retryable}
	if payload, err := json.Marshal(msg); err == nil {
		rt.send(wire.OpErr, payload)
	}
}

func failConclude(jobID, reason string) wire.ConcludeMsg {
	return wire.ConcludeMsg{JobID: jobID, Status: "failed", ErrorMessage: reason}
}

// scanRows reads one JSON object per line from r and invokes fn for each.
// It stops at the first malformed line and returns that error; a plugin
// that cannot produce valid newline-delimited JSON is an input problem,
// not something the gate can coerce around.
func scanRows(r io.Reader, fn func(contract.Row)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var row contract.Row
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("line %q: %w", string(line), err)
		}
		fn(row)
	}
	return sc.Err()
}

func toSchemaContract(cols []wire.TopicColumn) types.SchemaContract {
	out := make([]types.ColumnContract, 0, len(cols))
	for _, c := range cols {
		out = append(out, types.ColumnContract{
			Name:         c.Name,
			Type:         types.ColumnType(c.Type),
			Nullable:     c.Nullable,
			DecimalScale: c.DecimalScale,
			Timezone:     c.Timezone,
		})
	}
	return types.SchemaContract{Columns: out}
}

func stampLineage(row contract.CoercedRow, d wire.DispatchMsg, spec wire.TopicSpec) {
	row["_cf_source_hash"] = d.ContentHash
	row["_cf_job_id"] = d.JobID
	row["_cf_processed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	row["_cf_parser_version"] = d.PluginVersion
}
