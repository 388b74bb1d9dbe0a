package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditflow/sequence"
	"creditflow/state"
	"creditflow/xmlartifact"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"states", "parse", "diff", "next", "current", "reset", "verify", "audit"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "states", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestStatesJSON(t *testing.T) {
	out, err := execute(t, "states", "--format", "json")
	require.NoError(t, err)

	var views []stateView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, len(state.Default().States()))
	assert.Equal(t, state.IntakeReceived, views[0].Code)
	for _, v := range views {
		if v.Final {
			assert.Empty(t, v.Targets, v.Code)
		}
	}
}

func TestStatesText(t *testing.T) {
	out, err := execute(t, "states")
	require.NoError(t, err)
	assert.Contains(t, out, "pending-signature")
	assert.Contains(t, out, "(final)")
}

func TestParse(t *testing.T) {
	out, err := execute(t, "parse", "SOL-2025-000042", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"year":2025,"sequence":42}`, out)

	_, err = execute(t, "parse", "SOL-25-42")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sequence.ErrFormat))
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestDiff(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	write := func(name, amount string) string {
		doc, err := xmlartifact.Build(xmlartifact.Payload{
			Application: xmlartifact.ApplicationFields{Amount: amount},
			Applicant:   xmlartifact.ApplicantFields{DocumentNumber: "123"},
		}, at)
		require.NoError(t, err)
		data, err := xmlartifact.Marshal(doc)
		require.NoError(t, err)
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}
	before := write("before.xml", "1000")
	after := write("after.xml", "2500")

	out, err := execute(t, "diff", before, after, "--format", "json")
	require.NoError(t, err)

	var diffs []xmlartifact.Difference
	require.NoError(t, json.Unmarshal([]byte(out), &diffs))
	require.Len(t, diffs, 1)
	assert.Equal(t, xmlartifact.Modified, diffs[0].Kind)
	assert.Equal(t, "1000", diffs[0].Before)
	assert.Equal(t, "2500", diffs[0].After)
}

func TestResetRequiresConfirmation(t *testing.T) {
	_, err := execute(t, "reset", "--year", "2025")
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}

func TestDatabaseCommandsNeedConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	_, err := execute(t, "audit", "--env-file", filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.Equal(t, exitCommandError, exitCode(err))
}
