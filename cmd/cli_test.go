package cmd

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebrix/klokpilot/internal/version"
)

// chdir changes the working directory for the test, restoring it on
// cleanup. Stand-in for t.Chdir, which requires Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")

	require.NoError(t, err)
	assert.Contains(t, stdout, version.Version)
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"version", "run", "verify", "auth"} {
		assert.True(t, names[want], want)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	_, _, err := executeCLI(t, "does-not-exist")

	require.Error(t, err)
}

func TestAuthWithoutKeysFails(t *testing.T) {
	chdir(t, t.TempDir())

	_, _, err := executeCLI(t, "auth")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private keys")
}
