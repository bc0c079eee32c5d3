package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousef-elgarch1/secureflow/pkg/generator"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.Concurrency)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, "gemini-1.5-pro", cfg.Backends[generator.BackendCapable].Model)
	assert.Equal(t, "gemini-1.5-flash", cfg.Backends[generator.BackendFast].Model)
	assert.NotNil(t, cfg.Providers)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")

	cfg := Default()
	cfg.SetAPIKey("gemini", "secret")
	require.NoError(t, cfg.SetModel(generator.BackendFast, "openai", "gpt-4o-mini"))
	cfg.Pipeline.BatchTimeout = 5 * time.Minute
	cfg.Routing = map[string]string{"dependency": generator.BackendFast}
	require.NoError(t, SaveTo(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", loaded.GetAPIKey("gemini"))
	assert.Equal(t, "openai", loaded.Backends[generator.BackendFast].Provider)
	assert.Equal(t, "gpt-4o-mini", loaded.Backends[generator.BackendFast].Model)
	assert.Equal(t, 5*time.Minute, loaded.Pipeline.BatchTimeout)
	assert.Equal(t, generator.BackendFast, loaded.Routing["dependency"])
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  concurrency: 8\n"), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, 5, cfg.Pipeline.TopK)
	assert.Equal(t, "127.0.0.1:8088", cfg.Server.Addr)
}

func TestSetModelUnknownBackend(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.SetModel("huge", "gemini", "x"))

	require.NoError(t, cfg.SetModel("", "azure", ""))
	for _, name := range cfg.BackendNames() {
		assert.Equal(t, "azure", cfg.Backends[name].Provider)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SECUREFLOW_PIPELINE_CONCURRENCY", "7")
	t.Setenv("SECUREFLOW_PIPELINE_BATCH_TIMEOUT", "90s")
	t.Setenv("SECUREFLOW_OUTPUT_S3_BUCKET", "artifacts")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")

	cfg := Default()
	cfg.Pipeline.TopK = 9
	require.NoError(t, ApplyEnv(cfg, viper.New()))

	assert.Equal(t, 7, cfg.Pipeline.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.BatchTimeout)
	assert.Equal(t, 9, cfg.Pipeline.TopK, "unset keys keep their value")
	assert.Equal(t, "artifacts", cfg.Output.S3Bucket)
	assert.Equal(t, "s3://artifacts", cfg.Output.Target())
	assert.Equal(t, "sk-test", cfg.GetAPIKey("openai"))
	assert.Equal(t, "https://example.openai.azure.com", cfg.Providers["azure"].Endpoint)
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Resolve("/home/me/.secureflow")
	assert.Equal(t, "/home/me/.secureflow/ledger.db", cfg.Ledger.Path)
	assert.Equal(t, "/home/me/.secureflow/runs", cfg.Output.Dir)
}
