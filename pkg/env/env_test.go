package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casparian/flow/pkg/types"
)

func TestVerifyDetectsTamperedSource(t *testing.T) {
	m := &types.PluginManifest{
		Name:       "csv_parser",
		SourceCode: "def parse(): pass",
		Lockfile:   "lock-v1",
	}
	m.SourceHash = HashSource(m.SourceCode, m.Lockfile)

	assert.NoError(t, Verify(m))

	m.SourceCode = "def parse(): os.system('rm -rf /')"
	err := Verify(m)
	require.Error(t, err)
}

func TestEncodeDecodeSourceRoundTrip(t *testing.T) {
	m := &types.PluginManifest{SourceCode: "print('hi')", Lockfile: "lock"}
	envVars := EncodeEnv(m, "job-1")
	require.Len(t, envVars, 3)

	encoded := envVars[0][len(SourceVar)+1:]
	decoded, err := DecodeSource(encoded)
	require.NoError(t, err)
	assert.Equal(t, m.SourceCode, decoded)
}
