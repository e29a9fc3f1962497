package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "serve", "worker", "reports", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "renovation-report", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"url", "address", "force"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestWorkerCommand_Flags(t *testing.T) {
	flag := workerCmd.Flags().Lookup("metrics-port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestReportsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reportsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected reports subcommand %q", name)
	}

	limit := reportsListCmd.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "50", limit.DefValue)
}

func TestRunInput(t *testing.T) {
	kind, raw, err := runInput("https://www.zillow.com/homedetails/1", "")
	require.NoError(t, err)
	assert.Equal(t, "url", string(kind))
	assert.Equal(t, "https://www.zillow.com/homedetails/1", raw)

	kind, raw, err = runInput("", "1 Main St, Reno, NV")
	require.NoError(t, err)
	assert.Equal(t, "address", string(kind))
	assert.Equal(t, "1 Main St, Reno, NV", raw)

	_, _, err = runInput("", "")
	assert.Error(t, err)
	_, _, err = runInput("https://www.zillow.com/homedetails/1", "1 Main St")
	assert.Error(t, err)
}
