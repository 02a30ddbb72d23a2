package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corrdiv/internal/config"
	"corrdiv/internal/reporting"
)

func TestWriteReport_StoresEffectiveConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	cfg := config.Default()
	cfg.Correlation.BaselineHorizon = 7
	cfg.Divergence.Threshold = 0.22

	report := &reporting.Report{Title: "run", Reference: cfg.Reference, Assets: cfg.Assets}
	require.NoError(t, writeReport(dir, report, cfg))

	for _, name := range []string{"REPORT.md", "trades.csv", "assets.csv", "config.yaml"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// The saved config reproduces the run.
	loaded, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
