package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "TOOLSERVER_HELPER_MODE"

// TestToolServerHelper is not a real test. It is re-executed as the MCP server
// subprocess by the tests below.
func TestToolServerHelper(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		t.Skip("helper process")
	}

	scanner := bufio.NewScanner(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var req struct {
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
			ID     *int                   `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue
		}

		switch req.Method {
		case "initialize":
			if mode == "fail_init" {
				writeHelperResponse(encoder, *req.ID, nil, &RPCError{Code: -32603, Message: "boom"})
				continue
			}
			writeHelperResponse(encoder, *req.ID, map[string]interface{}{
				"protocolVersion": ProtocolVersion,
				"serverInfo":      map[string]interface{}{"name": "helper"},
			}, nil)
		case "tools/list":
			cursor, _ := req.Params["cursor"].(string)
			if mode == "cursor_cycle" {
				next := map[string]string{"": "A", "A": "B", "B": "A"}[cursor]
				writeHelperResponse(encoder, *req.ID, map[string]interface{}{
					"tools":      []map[string]interface{}{{"name": "tool_" + cursor}},
					"nextCursor": next,
				}, nil)
				continue
			}
			if cursor == "" {
				writeHelperResponse(encoder, *req.ID, map[string]interface{}{
					"tools": []map[string]interface{}{
						{
							"name":        "get_latest_block",
							"description": "Latest block on the chain",
							"inputSchema": map[string]interface{}{"type": "object"},
						},
					},
					"nextCursor": "page-2",
				}, nil)
				continue
			}
			writeHelperResponse(encoder, *req.ID, map[string]interface{}{
				"tools": []map[string]interface{}{
					{
						"name":        "get_address_logs",
						"description": "Event logs emitted by an address",
						"inputSchema": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"address": map[string]interface{}{"type": "string"},
							},
							"required": []string{"address"},
						},
					},
					{
						"name":        "explorer_endpoint",
						"description": "Reports the configured endpoint",
					},
				},
			}, nil)
		case "tools/call":
			if mode == "crash_on_call" {
				os.Exit(3)
			}
			name, _ := req.Params["name"].(string)
			args, _ := req.Params["arguments"].(map[string]interface{})
			switch name {
			case "get_latest_block":
				writeHelperResponse(encoder, *req.ID, textContent("Block 100", false), nil)
			case "get_address_logs":
				address, _ := args["address"].(string)
				if address == "0xbad" {
					writeHelperResponse(encoder, *req.ID, textContent("address not found", true), nil)
					continue
				}
				writeHelperResponse(encoder, *req.ID, textContent("3 logs for "+address, false), nil)
			case "explorer_endpoint":
				writeHelperResponse(encoder, *req.ID, textContent(os.Getenv(EndpointEnvVar), false), nil)
			default:
				writeHelperResponse(encoder, *req.ID, nil, &RPCError{Code: -32601, Message: "tool not found"})
			}
		default:
			writeHelperResponse(encoder, *req.ID, nil, &RPCError{Code: -32601, Message: "method not found"})
		}
	}
	os.Exit(0)
}

func textContent(text string, isError bool) map[string]interface{} {
	return map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
		"isError": isError,
	}
}

func writeHelperResponse(encoder *json.Encoder, id int, result interface{}, rpcErr *RPCError) {
	resp := rpcResponse{JSONRPC: "2.0", ID: &id, Error: rpcErr}
	if rpcErr == nil {
		payload, _ := json.Marshal(result)
		resp.Result = payload
	}
	_ = encoder.Encode(resp)
}

func helperOptions(mode string) Options {
	return Options{
		EndpointURL: "https://explorer.test/api",
		Command:     os.Args[0],
		Args:        []string{"-test.run", "^TestToolServerHelper$"},
		ExtraEnv:    map[string]string{helperEnv: mode},
		CallTimeout: 5 * time.Second,
		CloseGrace:  time.Second,
		Logger:      zerolog.Nop(),
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("should require endpoint before spawning", func(t *testing.T) {
		opts := helperOptions("ok")
		opts.EndpointURL = "  "

		conn, err := Open(ctx, opts)
		assert.Nil(t, conn)
		assert.ErrorIs(t, err, ErrEndpointRequired)
	})

	t.Run("should discover tools across pages", func(t *testing.T) {
		conn, err := Open(ctx, helperOptions("ok"))
		require.NoError(t, err)
		defer conn.Close()

		tools := conn.ListTools()
		require.Len(t, tools, 3)
		assert.Equal(t, "get_latest_block", tools[0].Name)
		assert.Equal(t, "get_address_logs", tools[1].Name)
		assert.Equal(t, "explorer_endpoint", tools[2].Name)
		assert.Contains(t, string(tools[1].InputSchema), "address")
	})

	t.Run("should return a snapshot copy", func(t *testing.T) {
		conn, err := Open(ctx, helperOptions("ok"))
		require.NoError(t, err)
		defer conn.Close()

		tools := conn.ListTools()
		tools[0].Name = "mutated"
		assert.Equal(t, "get_latest_block", conn.ListTools()[0].Name)
	})

	t.Run("should report spawn failures", func(t *testing.T) {
		opts := helperOptions("ok")
		opts.Command = "/nonexistent/chainscout-tool-server"

		_, err := Open(ctx, opts)
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "spawn", connErr.Stage)
	})

	t.Run("should fail when pagination cycles", func(t *testing.T) {
		_, err := Open(ctx, helperOptions("cursor_cycle"))
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "tools/list", connErr.Stage)
		assert.ErrorIs(t, err, ErrCursorCycle)
	})

	t.Run("should report handshake failures and reap the process", func(t *testing.T) {
		_, err := Open(ctx, helperOptions("fail_init"))
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "initialize", connErr.Stage)

		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, "boom", rpcErr.Message)
	})
}

func TestCallTool(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, helperOptions("ok"))
	require.NoError(t, err)
	defer conn.Close()

	t.Run("should return text content", func(t *testing.T) {
		res, err := conn.CallTool(ctx, "get_latest_block", nil)
		require.NoError(t, err)
		assert.Equal(t, "Block 100", res.Text)
		assert.False(t, res.IsError)
		assert.NotEmpty(t, res.Raw)
	})

	t.Run("should pass arguments through", func(t *testing.T) {
		res, err := conn.CallTool(ctx, "get_address_logs", map[string]interface{}{"address": "0xAA"})
		require.NoError(t, err)
		assert.Equal(t, "3 logs for 0xAA", res.Text)
	})

	t.Run("should surface tool level errors", func(t *testing.T) {
		res, err := conn.CallTool(ctx, "get_address_logs", map[string]interface{}{"address": "0xbad"})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "address not found", res.Text)
	})

	t.Run("should propagate the endpoint to the server", func(t *testing.T) {
		res, err := conn.CallTool(ctx, "explorer_endpoint", nil)
		require.NoError(t, err)
		assert.Equal(t, "https://explorer.test/api", res.Text)
	})

	t.Run("should reject unknown tools", func(t *testing.T) {
		_, err := conn.CallTool(ctx, "get_gas_price", nil)
		assert.ErrorIs(t, err, ErrUnknownTool)
	})

	t.Run("should reject arguments that fail the schema", func(t *testing.T) {
		_, err := conn.CallTool(ctx, "get_address_logs", map[string]interface{}{})
		assert.ErrorIs(t, err, ErrInvalidArguments)
		assert.False(t, IsConnectionFatal(err))
	})
}

func TestConnectionLoss(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, helperOptions("crash_on_call"))
	require.NoError(t, err)

	_, err = conn.CallTool(ctx, "get_latest_block", nil)
	require.Error(t, err)
	assert.True(t, IsConnectionFatal(err))

	_, err = conn.CallTool(ctx, "get_latest_block", nil)
	assert.True(t, errors.Is(err, ErrConnectionClosed))

	assert.NoError(t, conn.Close())
}

func TestClose(t *testing.T) {
	conn, err := Open(context.Background(), helperOptions("ok"))
	require.NoError(t, err)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())

	_, err = conn.CallTool(context.Background(), "get_latest_block", nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestBuildEnv(t *testing.T) {
	env := buildEnv(Options{
		EndpointURL: "https://explorer.test/api",
		ExtraEnv: map[string]string{
			"NODE_ENV":     "production",
			EndpointEnvVar: "https://ignored.test/api",
		},
	})

	assert.Contains(t, env, "NODE_ENV=production")
	assert.Contains(t, env, EndpointEnvVar+"=https://explorer.test/api")
	assert.NotContains(t, env, EndpointEnvVar+"=https://ignored.test/api")
}

func TestParseCallResult(t *testing.T) {
	t.Run("joins text parts", func(t *testing.T) {
		res := parseCallResult([]byte(`{"content":[{"type":"text","text":"a"},{"type":"image","data":"x"},{"type":"text","text":"b"}]}`))
		assert.Equal(t, "a\nb", res.Text)
		assert.False(t, res.IsError)
	})

	t.Run("falls back to raw json", func(t *testing.T) {
		res := parseCallResult([]byte(`{"result":5}`))
		assert.Equal(t, `{"result":5}`, res.Text)
	})

	t.Run("reads embedded resources", func(t *testing.T) {
		res := parseCallResult([]byte(`{"content":[{"type":"resource","resource":{"uri":"x","text":"body"}}],"isError":true}`))
		assert.Equal(t, "body", res.Text)
		assert.True(t, res.IsError)
	})
}
