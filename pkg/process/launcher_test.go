package process

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxerResolver_PrefersExistingEnvPath(t *testing.T) {
	host := filepath.Join(t.TempDir(), "muxer")
	require.NoError(t, os.WriteFile(host, []byte("#!/bin/sh\n"), 0755))
	t.Setenv("TEST_MUXER_PATH", host)

	r := MuxerResolver{EnvVar: "TEST_MUXER_PATH", Name: "definitely-not-on-path-xyz"}

	assert.Equal(t, host, r.LauncherPath())
}

func TestMuxerResolver_FallsBackToBareName(t *testing.T) {
	t.Setenv("TEST_MUXER_PATH", filepath.Join(t.TempDir(), "missing"))

	r := MuxerResolver{EnvVar: "TEST_MUXER_PATH", Name: "definitely-not-on-path-xyz"}

	assert.Equal(t, "definitely-not-on-path-xyz", r.LauncherPath())
}

func TestStaticLauncher(t *testing.T) {
	assert.Equal(t, "/opt/runtime/bin/run", StaticLauncher("/opt/runtime/bin/run").LauncherPath())
}

func TestDefaultMuxer(t *testing.T) {
	m := DefaultMuxer()
	assert.Equal(t, "DOTNET_HOST_PATH", m.EnvVar)
	assert.Equal(t, "dotnet", m.Name)
}
