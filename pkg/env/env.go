// Package env resolves a plugin's execution environment before the
// worker runtime spawns it: the parser's source is passed to the child
// process out-of-band via an environment variable (base64-encoded, never
// written to a shared temp path another job could race on), and Verify
// recomputes its content hash and checks it against the catalog's
// PluginManifest.SourceHash. Nothing in the dispatch path calls Verify.
//
// This adapts the base64 env-passing idea from the teacher's secrets
// manager, dropping the AES-GCM encryption layer: plugin source is not
// confidential, only its integrity matters.
package env

import (
	"encoding/base64"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/casparian/flow/pkg/ferrors"
	"github.com/casparian/flow/pkg/types"
)

const (
	// SourceVar is the environment variable name a spawned plugin process
	// finds its own source code under, base64-encoded.
	SourceVar = "CASPARIAN_PLUGIN_SOURCE"

	// LockfileVar carries the plugin's declared dependency lockfile, also
	// base64-encoded, so the child can verify its own environment.
	LockfileVar = "CASPARIAN_PLUGIN_LOCKFILE"

	// JobIDVar tells the child process which job it is executing, for
	// lineage stamping.
	JobIDVar = "CASPARIAN_JOB_ID"
)

// HashSource computes the content hash a PluginManifest.SourceHash must
// equal: blake3-256 over the source bytes, a NUL separator byte, and the
// lockfile bytes.
func HashSource(sourceCode, lockfile string) string {
	h := blake3.New()
	h.Write([]byte(sourceCode))
	h.Write([]byte("\x00"))
	h.Write([]byte(lockfile))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Verify recomputes m's source hash and reports a ferrors.EnvMissing error
// if it does not match the manifest's recorded SourceHash — a sign the
// catalog row was corrupted or tampered with between approval and
// dispatch.
func Verify(m *types.PluginManifest) error {
	got := HashSource(m.SourceCode, m.Lockfile)
	if got != m.SourceHash {
		return ferrors.EnvMissing(
			fmt.Sprintf("plugin %s: recomputed hash %s does not match manifest %s", m.Name, got, m.SourceHash),
			nil,
		)
	}
	return nil
}

// EncodeEnv builds the environment variable assignments ("KEY=VALUE") a
// spawned plugin process should receive, given its manifest and the job
// it is executing.
func EncodeEnv(m *types.PluginManifest, jobID string) []string {
	return []string{
		SourceVar + "=" + base64.StdEncoding.EncodeToString([]byte(m.SourceCode)),
		LockfileVar + "=" + base64.StdEncoding.EncodeToString([]byte(m.Lockfile)),
		JobIDVar + "=" + jobID,
	}
}

// DecodeSource reverses one base64-encoded environment value back into
// the original plugin source or lockfile text. It is provided for the
// worker runtime's own self-tests; real plugin processes decode this
// themselves in their own runtime.
func DecodeSource(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ferrors.EnvMissing("malformed base64 plugin source", err)
	}
	return string(data), nil
}
