package main

import (
	"os"
	"path/filepath"
	"testing"

	"FrameFinder/pkg/ingest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	yml := "database:\n  driver: memory\nlogger:\n  level: error\ningest:\n  frameStoragePath: " +
		filepath.ToSlash(filepath.Join(dir, "frames")) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0644))
	return dir
}

func TestRunRequiresAction(t *testing.T) {
	assert.Equal(t, 1, run(cliOptions{}))
}

func TestRunReturnsExitCodes(t *testing.T) {
	dir := memoryConfigDir(t)

	assert.Equal(t, 0, run(cliOptions{action: "list", configDir: dir}))
	assert.Equal(t, 0, run(cliOptions{action: "audit", configDir: dir}))
	assert.Equal(t, 1, run(cliOptions{action: "add", configDir: dir}))
	assert.Equal(t, 1, run(cliOptions{action: "search", configDir: dir}))
	assert.Equal(t, 1, run(cliOptions{action: "backup", configDir: dir, output: t.TempDir()}))
	assert.Equal(t, 1, run(cliOptions{action: "rebuild", configDir: dir}))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(&ingest.Report{Outcome: ingest.OutcomeCompleted}))
	assert.Equal(t, 1, exitCode(&ingest.Report{Outcome: ingest.OutcomeCompletedWithErrors}))
	assert.Equal(t, 1, exitCode(&ingest.Report{Outcome: ingest.OutcomeCancelled}))
}
