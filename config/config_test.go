// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	fo := feature.DefaultOptions()
	assert.Equal(t, fo.Features, cfg.Features.Features)
	assert.InDelta(t, 1000, cfg.Features.Cutoff, 1e-9)
	assert.Equal(t, 250, cfg.Features.TopK)
	assert.Equal(t, 3, cfg.Features.NGram)
	assert.Equal(t, 2, cfg.Features.NumPosPairs)
	assert.Equal(t, fo.Workers, cfg.Features.Workers)
	assert.False(t, cfg.Features.ForceOrphans)

	assert.Equal(t, "geodist,jaro_winkler", cfg.Classify.Method)
	assert.InDelta(t, 20, cfg.Classify.GeoDistThreshold, 1e-9)
	assert.InDelta(t, 0.7, cfg.Classify.SimiThreshold, 1e-9)

	assert.InDelta(t, 0.6, cfg.Fixer.MinConfidence, 1e-9)
	assert.Equal(t, 500, cfg.Fixer.MaxRounds)

	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, "default", cfg.Store.Run)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdir(t)

	yaml := `
features:
  features: [lev_simi, geodist, jaro_winkler_simi]
  cutoff: 500
  force_orphans: true
classify:
  method: editdist
  simi_threshold: 0.8
fixer:
  max_rounds: 10
store:
  path: statsimi.duckdb
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "statsimi.yaml"), []byte(yaml), 0o600))

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{feature.LevSimi, feature.GeoDist, feature.JaroWinklerSimi}, cfg.Features.Features)
	assert.InDelta(t, 500, cfg.Features.Cutoff, 1e-9)
	assert.True(t, cfg.Features.ForceOrphans)
	assert.Equal(t, "editdist", cfg.Classify.Method)
	assert.InDelta(t, 0.8, cfg.Classify.SimiThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Fixer.MaxRounds)
	assert.Equal(t, "statsimi.duckdb", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)

	// defaults still apply for unset values
	assert.Equal(t, 250, cfg.Features.TopK)
	assert.InDelta(t, 20, cfg.Classify.GeoDistThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Fixer.MinConfidence, 1e-9)
}

func TestLoadExplicitFile(t *testing.T) {
	dir := chdir(t)

	path := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fixer:\n  min_confidence: 0.9\n"), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, cfg.Fixer.MinConfidence, 1e-9)

	_, err = Load(filepath.Join(dir, "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdir(t)

	yaml := `
fixer:
  max_rounds: 10
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "statsimi.yaml"), []byte(yaml), 0o600))

	t.Setenv("STATSIMI_FIXER_MAX_ROUNDS", "20")
	t.Setenv("STATSIMI_LOG_LEVEL", "warn")
	t.Setenv("STATSIMI_FEATURES_FEATURES", "lev_simi,jaro_simi")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Fixer.MaxRounds)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{feature.LevSimi, feature.JaroSimi}, cfg.Features.Features)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	chdir(t)

	t.Setenv("STATSIMI_CLASSIFY_METHOD", "jaro")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("method", "", "")
	flags.Float64("min-confidence", 0, "")
	flags.String("db", "", "")
	require.NoError(t, flags.Parse([]string{"--method", "geodist", "--db", "x.duckdb"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "geodist", cfg.Classify.Method)
	assert.Equal(t, "x.duckdb", cfg.Store.Path)
	// unset flags keep the default
	assert.InDelta(t, 0.6, cfg.Fixer.MinConfidence, 1e-9)
}

func TestValidate(t *testing.T) {
	chdir(t)

	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"unknown feature", func(c *Config) { c.Features.Features = []string{"colour"} }},
		{"unknown method", func(c *Config) { c.Classify.Method = "random_forest" }},
		{"confidence", func(c *Config) { c.Fixer.MinConfidence = 1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("", nil)
			require.NoError(t, err)

			tc.edit(cfg)
			assert.True(t, feature.IsConfigError(cfg.Validate()))
		})
	}
}

func TestInitLogger(t *testing.T) {
	defer zap.ReplaceGlobals(zap.NewNop())

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
