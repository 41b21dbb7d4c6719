package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "jobs", "reconcile"} {
		assert.True(t, names[want], want)
	}

	cmd, _, err := rootCmd.Find([]string{"jobs", "stats"})
	require.NoError(t, err)
	assert.Equal(t, "stats", cmd.Name())
}

func TestTriggerRejectsUnknownTask(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"jobs", "trigger", "ledger:rewrite"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument")
}
