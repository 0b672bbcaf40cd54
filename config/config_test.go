package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("M4T_API_URL", "")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 30.0, cfg.Segmentation.ChunkDuration)
	assert.Equal(t, DefaultBaseURL, cfg.Services.VAD.URL)
	assert.Equal(t, DefaultBaseURL, cfg.Services.Embedding.URL)
}

func TestLoadFile(t *testing.T) {
	p := writeConfig(t, `
pipeline:
  log_level: debug
services:
  vad:
    url: http://vad:9000/
segmentation:
  chunk_duration: 20
  merge_tolerance: 0.25
clustering:
  similarity_threshold: 0.7
reference:
  midpoint_bonus: 20
`)
	cfg, err := Load(p, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Pipeline.LogLvl)
	assert.Equal(t, "http://vad:9000", cfg.Services.VAD.URL)
	assert.Equal(t, 20.0, cfg.Segmentation.ChunkDuration)
	assert.Equal(t, 0.25, cfg.Segmentation.MergeTolerance)
	assert.Equal(t, 0.1, cfg.Segmentation.IncompleteTolerance, "unset keys keep defaults")
	assert.Equal(t, 0.7, cfg.Clustering.SimilarityThreshold)
	assert.Equal(t, 20.0, cfg.Reference.MidpointBonus)
}

func TestLocateByEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("CONFIG_ENV", "prod")
	require.NoError(t, os.MkdirAll(filepath.Join("config", "prod"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join("config", "prod", "config.yaml"), []byte("retry:\n  max_retries: 4\n"), 0o644))
	require.NoError(t, os.WriteFile("config.yaml", []byte("retry:\n  max_retries: 1\n"), 0o644))

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Retry.MaxRetries)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "segmentation:\n  chunk_duration: 20\n")
	t.Setenv("VOICELINE_SEGMENTATION_CHUNK_DURATION", "12.5")
	t.Setenv("VOICELINE_SERVICES_EMBEDDING_URL", "http://emb:1")
	t.Setenv("VOICELINE_CLUSTERING_EMBEDDING_CACHE", "false")

	cfg, err := Load(p, viper.New())
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.Segmentation.ChunkDuration)
	assert.Equal(t, "http://emb:1", cfg.Services.Embedding.URL)
	assert.False(t, cfg.Clustering.EmbeddingCache)
}

func TestBoundFlagOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	v := viper.New()
	require.NoError(t, v.BindPFlag("pipeline.log_level", fs.Lookup("log-level")))

	cfg, err := Load(writeConfig(t, "pipeline:\n  log_level: warn\n"), v)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Pipeline.LogLvl, "unchanged flag does not override")

	require.NoError(t, fs.Set("log-level", "trace"))
	cfg, err = Load(writeConfig(t, "pipeline:\n  log_level: warn\n"), v)
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Pipeline.LogLvl)
}

func TestM4TFallback(t *testing.T) {
	t.Setenv("M4T_API_URL", "http://m4t:8000/")
	cfg, err := Load(writeConfig(t, "services:\n  separation:\n    url: http://sep:1\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "http://m4t:8000", cfg.Services.VAD.URL)
	assert.Equal(t, "http://m4t:8000", cfg.Services.Embedding.URL)
	assert.Equal(t, "http://sep:1", cfg.Services.Separation.URL)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Root){
		"chunk":      func(r *Root) { r.Segmentation.ChunkDuration = 0 },
		"tolerance":  func(r *Root) { r.Segmentation.EndTolerance = -1 },
		"similarity": func(r *Root) { r.Clustering.SimilarityThreshold = 1.5 },
		"reference":  func(r *Root) { r.Reference.MinDuration = 20 },
		"overshoot":  func(r *Root) { r.Reference.OvershootFactor = 0.5 },
		"retries":    func(r *Root) { r.Retry.MaxRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := Default()
			mutate(r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "segmentation: [\n"), nil)
	assert.Error(t, err)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestShippedDevConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("dev", "config.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Retry, cfg.Retry)
	assert.Equal(t, "outputs/metrics.prom", cfg.Paths.MetricsFile)
}
