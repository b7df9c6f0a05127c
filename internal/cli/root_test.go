package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RejectsInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--format", "xml", "--vault", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"show", "start", "stop", "reset", "duplicate", "delete", "hide", "move", "watch"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestShowCommand_EmptyVault(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"show", "--vault", dir, "--date", "2025-03-10"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "2025-03-10")
}

func TestStartCommand_UnknownInstanceFails(t *testing.T) {
	dir := t.TempDir()
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"start", "no-such-id", "--vault", dir, "--date", "2025-03-10"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
