package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears variables the loader reads and points HOME at a temp dir.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"BLOCKSCOUT_API_URL",
		"ANTHROPIC_API_KEY",
		"OPENAI_API_KEY",
		"CHAINSCOUT_EXPLORER_ENDPOINT_URL",
		"CHAINSCOUT_AGENT_PROVIDER",
		"CHAINSCOUT_AGENT_CREDENTIAL",
		"CHAINSCOUT_RUNNER_PACING",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		isolateEnv(t)

		cfg, err := NewLoader("").Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Agent, cfg.Agent)
		assert.Empty(t, cfg.Explorer.EndpointURL)
	})

	t.Run("explicit missing file is an error", func(t *testing.T) {
		isolateEnv(t)
		_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		assert.Error(t, err)
	})

	t.Run("yaml file", func(t *testing.T) {
		isolateEnv(t)
		path := filepath.Join(t.TempDir(), "chainscout.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
explorer:
  endpoint_url: https://explorer.test/api
agent:
  provider: openai
  max_turns: 4
tool_server:
  call_timeout: 10s
  env:
    NODE_ENV: production
runner:
  pacing: 2s
contracts:
  - name: UserRegistry
    address: "0x7D6183146cdc682E004A1dad84636c1ccd892EcC"
`), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "https://explorer.test/api", cfg.Explorer.EndpointURL)
		assert.Equal(t, "openai", cfg.Agent.Provider)
		assert.Equal(t, 4, cfg.Agent.MaxTurns)
		assert.Equal(t, 4096, cfg.Agent.MaxTokens)
		assert.Equal(t, 10*time.Second, cfg.ToolServer.CallTimeout)
		assert.Equal(t, 2*time.Second, cfg.Runner.Pacing)
		assert.Equal(t, "production", cfg.ToolServer.Env["NODE_ENV"])
		require.Len(t, cfg.Contracts, 1)
		assert.Equal(t, "UserRegistry", cfg.Contracts[0].Name)
	})

	t.Run("legacy environment names", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("BLOCKSCOUT_API_URL", "https://legacy.test/api")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "https://legacy.test/api", cfg.Explorer.EndpointURL)
		assert.Equal(t, "sk-ant-from-env", cfg.Agent.Credential)
	})

	t.Run("prefixed environment wins over legacy", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("BLOCKSCOUT_API_URL", "https://legacy.test/api")
		t.Setenv("CHAINSCOUT_EXPLORER_ENDPOINT_URL", "https://prefixed.test/api")
		t.Setenv("CHAINSCOUT_RUNNER_PACING", "250ms")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "https://prefixed.test/api", cfg.Explorer.EndpointURL)
		assert.Equal(t, 250*time.Millisecond, cfg.Runner.Pacing)
	})

	t.Run("credential follows the provider", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-unused")
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		t.Setenv("CHAINSCOUT_AGENT_PROVIDER", "openai")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "sk-openai", cfg.Agent.Credential)
	})

	t.Run("dotenv file", func(t *testing.T) {
		isolateEnv(t)
		envFile := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(envFile, []byte("BLOCKSCOUT_API_URL=https://dotenv.test/api\nANTHROPIC_API_KEY=sk-ant-dotenv\n"), 0600))

		cfg, err := Load("", WithEnvFile(envFile))
		require.NoError(t, err)
		assert.Equal(t, "https://dotenv.test/api", cfg.Explorer.EndpointURL)
		assert.Equal(t, "sk-ant-dotenv", cfg.Agent.Credential)
	})

	t.Run("dotenv does not override the environment", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("BLOCKSCOUT_API_URL", "https://env.test/api")
		envFile := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(envFile, []byte("BLOCKSCOUT_API_URL=https://dotenv.test/api\n"), 0600))

		cfg, err := Load("", WithEnvFile(envFile))
		require.NoError(t, err)
		assert.Equal(t, "https://env.test/api", cfg.Explorer.EndpointURL)
	})

	t.Run("missing explicit dotenv file", func(t *testing.T) {
		isolateEnv(t)
		_, err := Load("", WithEnvFile(filepath.Join(t.TempDir(), "nope.env")))
		assert.Error(t, err)
	})

	t.Run("overrides win", func(t *testing.T) {
		isolateEnv(t)
		t.Setenv("CHAINSCOUT_RUNNER_PACING", "1s")

		cfg, err := Load("", WithOverride("runner.pacing", 3*time.Second), WithOverride("logging.level", "debug"))
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, cfg.Runner.Pacing)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestLoaderSave(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "chainscout.yaml")

	cfg := DefaultConfig()
	cfg.Explorer.EndpointURL = "https://explorer.test/api"
	cfg.Agent.Credential = "sk-ant-never-written"
	cfg.Contracts = []NamedAddress{{Name: "Reputation", Address: "0xef9a0281DBFE7eb05710640d94d18C91480b47f3"}}

	loader := NewLoader(path)
	require.NoError(t, loader.Save(cfg))
	assert.Equal(t, path, loader.GetConfigPath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-ant-never-written")

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://explorer.test/api", loaded.Explorer.EndpointURL)
	assert.Equal(t, cfg.Contracts, loaded.Contracts)
	assert.Equal(t, cfg.ToolServer.CallTimeout, loaded.ToolServer.CallTimeout)
}

func TestSaveEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KEEP=me\n"), 0600))

	require.NoError(t, SaveEnvFile(path, map[string]string{CredentialEnv("openai"): "sk-test"}))

	env, err := godotenv.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "me", env["KEEP"])
	assert.Equal(t, "sk-test", env["OPENAI_API_KEY"])
	assert.Equal(t, "ANTHROPIC_API_KEY", CredentialEnv("anthropic"))
}
