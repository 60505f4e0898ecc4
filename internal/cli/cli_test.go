package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/session"
	"github.com/harun/chainscout/pkg/toolserver"
)

const (
	testEndpoint = "https://explorer.test/api"
	testKey      = "sk-ant-test-credential"
	userRegistry = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	borrower     = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

type fakeConn struct{}

func (fakeConn) ListTools() []toolserver.ToolDescriptor {
	return []toolserver.ToolDescriptor{{
		Name:        "get_latest_block",
		Description: "Latest indexed block",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"chain_id":{"type":"string"}}}`),
	}}
}

func (fakeConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (toolserver.CallResult, error) {
	return toolserver.CallResult{Text: "Block 100"}, nil
}

func (fakeConn) Close() error { return nil }

type fakeStream struct {
	events []agent.Event
}

func (s *fakeStream) Next() (agent.Event, bool) {
	if len(s.events) == 0 {
		return agent.Event{}, false
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, true
}

// fakeAgent answers every query with one tool round trip, or fails queries
// whose text contains "fail".
type fakeAgent struct {
	mu      sync.Mutex
	queries []string
}

func (a *fakeAgent) RunQuery(ctx context.Context, text string) runner.EventStream {
	a.mu.Lock()
	a.queries = append(a.queries, text)
	a.mu.Unlock()

	if strings.Contains(text, "fail") {
		return &fakeStream{events: []agent.Event{{Kind: agent.FatalError, Err: errors.New("429 rate limit exceeded")}}}
	}
	call := &agent.ToolCall{ID: "1", Name: "get_latest_block", Parameters: map[string]interface{}{"chain_id": "1"}}
	return &fakeStream{events: []agent.Event{
		{Kind: agent.ToolCallRequest, Call: call},
		{Kind: agent.ToolCallResult, Call: call, Result: &agent.ToolOutput{ToolName: "get_latest_block", Text: "Block 100"}},
		{Kind: agent.TextChunk, Text: "The latest block is 100."},
		{Kind: agent.Completion},
	}}
}

func (a *fakeAgent) Queries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queries...)
}

type fakes struct {
	spawns  int
	openErr error
	agent   *fakeAgent
	cfg     session.Config
}

// setup isolates the environment in a temp directory and swaps in fake
// collaborators.
func setup(t *testing.T) *fakes {
	t.Helper()

	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"BLOCKSCOUT_API_URL",
		"ANTHROPIC_API_KEY",
		"OPENAI_API_KEY",
		"CHAINSCOUT_EXPLORER_ENDPOINT_URL",
		"CHAINSCOUT_AGENT_PROVIDER",
		"CHAINSCOUT_AGENT_CREDENTIAL",
		"CHAINSCOUT_RUNNER_PACING",
		"CHAINSCOUT_METRICS_ADDR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	f := &fakes{agent: &fakeAgent{}}
	prevOpen, prevAgent, prevSleep := openTools, newAgent, sleep
	openTools = func(ctx context.Context, opts toolserver.Options) (session.ToolConnection, error) {
		f.spawns++
		if f.openErr != nil {
			return nil, f.openErr
		}
		return fakeConn{}, nil
	}
	newAgent = func(cfg session.Config, tools agent.ToolDispatcher, logger zerolog.Logger) (runner.QueryAgent, error) {
		f.cfg = cfg
		return f.agent, nil
	}
	sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(func() {
		openTools, newAgent, sleep = prevOpen, prevAgent, prevSleep
	})
	return f
}

func configure(t *testing.T) {
	t.Helper()
	t.Setenv("BLOCKSCOUT_API_URL", testEndpoint)
	t.Setenv("ANTHROPIC_API_KEY", testKey)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chainscout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRunCommand(t *testing.T) {
	t.Run("single query", func(t *testing.T) {
		f := setup(t)
		configure(t)
		reportPath := filepath.Join(t.TempDir(), "out.json")

		out, _, err := execute(t, "", "run", "--single-query", "What is the latest block?", "--report", reportPath)
		require.NoError(t, err)

		assert.Equal(t, 1, f.spawns)
		assert.Equal(t, []string{"What is the latest block?"}, f.agent.Queries())
		assert.Contains(t, out, "Query: What is the latest block?")
		assert.Contains(t, out, `Tool call: get_latest_block {"chain_id":"1"}`)
		assert.Contains(t, out, "The latest block is 100.")
		assert.Contains(t, out, "1 queries: 1 completed, 0 failed")

		data, err := os.ReadFile(reportPath)
		require.NoError(t, err)
		var rep struct {
			Endpoint string           `json:"endpoint"`
			Results  []map[string]any `json:"results"`
		}
		require.NoError(t, json.Unmarshal(data, &rep))
		assert.Equal(t, testEndpoint, rep.Endpoint)
		require.Len(t, rep.Results, 1)
		assert.Equal(t, "The latest block is 100.", rep.Results[0]["text"])
	})

	t.Run("default built-in set", func(t *testing.T) {
		f := setup(t)
		configure(t)

		_, _, err := execute(t, "", "run", "--quiet")
		require.NoError(t, err)
		assert.Len(t, f.agent.Queries(), 1)
		assert.Equal(t, testKey, f.cfg.Credential)
		assert.Equal(t, testEndpoint, f.cfg.EndpointURL)
	})

	t.Run("query file with templates and pacing flag", func(t *testing.T) {
		f := setup(t)
		configure(t)
		cfgPath := writeConfig(t, "contracts:\n  - name: UserRegistry\n    address: "+userRegistry+"\n")
		queries := filepath.Join(t.TempDir(), "queries.yaml")
		require.NoError(t, os.WriteFile(queries, []byte(`name: registry
queries:
  - id: first
    text: "Events of {{.Contracts.UserRegistry}}"
  - id: second
    text: "Logs of {{.Contracts.UserRegistry}}"
`), 0644))

		out, _, err := execute(t, "", "--config", cfgPath, "run", "--queries", queries, "--pacing", "2s")
		require.NoError(t, err)
		assert.Equal(t, []string{"Events of " + userRegistry, "Logs of " + userRegistry}, f.agent.Queries())
		assert.Equal(t, 2*time.Second, f.cfg.Pacing)
		assert.Contains(t, out, "Pausing for 2s before next query...")
	})

	t.Run("failed query exits with 1", func(t *testing.T) {
		setup(t)
		configure(t)

		out, _, err := execute(t, "", "run", "--single-query", "please fail")
		assert.ErrorIs(t, err, ErrQueriesFailed)
		assert.Equal(t, ExitFailed, ExitCode(err))
		assert.Contains(t, out, "failed (query): 429 rate limit exceeded")
	})

	t.Run("missing configuration spawns nothing", func(t *testing.T) {
		f := setup(t)

		_, _, err := execute(t, "", "run", "--single-query", "hello")
		var cfgErr *session.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.ElementsMatch(t, []string{"endpoint_url", "credential"}, cfgErr.Missing)
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})

	t.Run("format errors and missing keys are reported together", func(t *testing.T) {
		f := setup(t)
		t.Setenv("ANTHROPIC_API_KEY", testKey)

		_, _, err := execute(t, "", "--log-level", "loud", "run", "--single-query", "hello")
		var cfgErr *session.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, []string{"endpoint_url"}, cfgErr.Missing)
		require.Len(t, cfgErr.Invalid, 1)
		assert.Contains(t, cfgErr.Invalid[0], "loud")
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})

	t.Run("unrenderable set is a configuration error", func(t *testing.T) {
		f := setup(t)
		configure(t)

		_, _, err := execute(t, "", "run", "--set", "p2p-lending")
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})

	t.Run("tool server failure exits with 3", func(t *testing.T) {
		f := setup(t)
		configure(t)
		f.openErr = &toolserver.ConnectionError{Stage: "spawn", Err: errors.New("exec: \"npx\": executable file not found")}

		_, _, err := execute(t, "", "run", "--single-query", "hello")
		assert.Equal(t, ExitConnection, ExitCode(err))
	})

	t.Run("conflicting query flags", func(t *testing.T) {
		setup(t)
		configure(t)

		_, _, err := execute(t, "", "run", "--single-query", "a", "--set", "latest-block")
		assert.Error(t, err)
	})

	t.Run("credential never reaches the log", func(t *testing.T) {
		setup(t)
		configure(t)

		_, stderr, err := execute(t, "", "--log-level", "debug", "run", "--quiet", "--single-query", "hello")
		require.NoError(t, err)
		assert.NotEmpty(t, stderr)
		assert.NotContains(t, stderr, testKey)
	})
}

func TestToolsCommand(t *testing.T) {
	t.Run("lists and writes tools", func(t *testing.T) {
		setup(t)
		t.Setenv("BLOCKSCOUT_API_URL", testEndpoint)
		output := filepath.Join(t.TempDir(), "listtools.json")

		out, _, err := execute(t, "", "tools", "--output", output)
		require.NoError(t, err)
		assert.Contains(t, out, "Found 1 tools:")
		assert.Contains(t, out, "get_latest_block")

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		var listing struct {
			Count int `json:"count"`
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(data, &listing))
		assert.Equal(t, 1, listing.Count)
		assert.Equal(t, "get_latest_block", listing.Tools[0].Name)
	})

	t.Run("requires the endpoint", func(t *testing.T) {
		f := setup(t)

		_, _, err := execute(t, "", "tools")
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})

	t.Run("format errors list only the endpoint as missing", func(t *testing.T) {
		setup(t)

		_, _, err := execute(t, "", "--log-level", "loud", "tools")
		var cfgErr *session.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, []string{"endpoint_url"}, cfgErr.Missing)
		assert.NotEmpty(t, cfgErr.Invalid)
	})
}

func TestActivityCommand(t *testing.T) {
	t.Run("builds one query over the contracts", func(t *testing.T) {
		f := setup(t)
		configure(t)
		cfgPath := writeConfig(t, "contracts:\n  - name: UserRegistry\n    address: "+userRegistry+"\n")

		_, _, err := execute(t, "", "--config", cfgPath, "activity", "--user", borrower)
		require.NoError(t, err)

		queries := f.agent.Queries()
		require.Len(t, queries, 1)
		assert.Contains(t, queries[0], borrower)
		assert.Contains(t, queries[0], "UserRegistry: "+userRegistry)
	})

	t.Run("invalid user address", func(t *testing.T) {
		f := setup(t)
		configure(t)

		_, _, err := execute(t, "", "activity", "--user", "0x123")
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})

	t.Run("no contracts configured", func(t *testing.T) {
		f := setup(t)
		configure(t)

		_, _, err := execute(t, "", "activity", "--user", borrower)
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})
}

func TestWatchCommand(t *testing.T) {
	t.Run("runs immediately up to max runs", func(t *testing.T) {
		f := setup(t)
		configure(t)
		reportPath := filepath.Join(t.TempDir(), "watch.json")

		_, _, err := execute(t, "", "watch", "--schedule", "@every 1h", "--now", "--max-runs", "1", "--quiet", "--report", reportPath)
		require.NoError(t, err)
		assert.Equal(t, 1, f.spawns)

		matches, err := filepath.Glob(filepath.Join(filepath.Dir(reportPath), "watch-0001-*.json"))
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		f := setup(t)
		configure(t)

		_, _, err := execute(t, "", "watch", "--schedule", "whenever")
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})

	t.Run("missing configuration fails before scheduling", func(t *testing.T) {
		f := setup(t)

		_, _, err := execute(t, "", "watch", "--schedule", "@every 1h")
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Zero(t, f.spawns)
	})
}

func TestNumberedPath(t *testing.T) {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "reports/out-0003-20240101T090000Z.json", numberedPath("reports/out.json", 3, at))
	assert.Equal(t, "", numberedPath("", 1, at))
}

func TestInitCommand(t *testing.T) {
	t.Run("writes config and env file", func(t *testing.T) {
		setup(t)
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "chainscout.yaml")
		envPath := filepath.Join(dir, ".env")

		input := strings.Join([]string{
			testEndpoint,
			"",
			testKey,
			"",
			"UserRegistry=" + userRegistry,
			"",
			"",
		}, "\n")

		out, _, err := execute(t, input, "--config", cfgPath, "--env-file", envPath, "init")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+cfgPath)

		cfgData, err := os.ReadFile(cfgPath)
		require.NoError(t, err)
		assert.Contains(t, string(cfgData), testEndpoint)
		assert.Contains(t, string(cfgData), userRegistry)
		assert.NotContains(t, string(cfgData), testKey)

		envData, err := os.ReadFile(envPath)
		require.NoError(t, err)
		assert.Contains(t, string(envData), "ANTHROPIC_API_KEY")
		assert.Contains(t, string(envData), testKey)

		info, err := os.Stat(envPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		setup(t)
		cfgPath := writeConfig(t, "explorer:\n  endpoint_url: "+testEndpoint+"\n")

		_, _, err := execute(t, "", "--config", cfgPath, "init")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--force")
	})
}
