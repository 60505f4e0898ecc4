package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/chainscout/internal/observability"
	"github.com/harun/chainscout/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// ProtocolVersion is the MCP revision sent during initialize
	ProtocolVersion = "2024-11-05"

	// EndpointEnvVar carries the explorer endpoint into the server process
	EndpointEnvVar = "BLOCKSCOUT_API_URL"

	DefaultCommand     = "npx"
	DefaultCallTimeout = 30 * time.Second
	DefaultCloseGrace  = 2 * time.Second

	maxMessageSize = 16 * 1024 * 1024
)

// DefaultArgs returns the arguments for DefaultCommand.
func DefaultArgs() []string {
	return []string{"-y", "blockscout-mcp"}
}

// Options configures how the server process is launched.
type Options struct {
	EndpointURL string
	Command     string
	Args        []string
	WorkingDir  string
	ExtraEnv    map[string]string
	InheritEnv  bool
	CallTimeout time.Duration
	CloseGrace  time.Duration

	ClientName    string
	ClientVersion string

	Logger zerolog.Logger
}

// ToolDescriptor is one operation advertised by the server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallResult is the outcome of a tools/call request.
type CallResult struct {
	Text    string          `json:"text"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      *int        `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
}

// Connection is a live MCP server subprocess.
type Connection struct {
	opts   Options
	logger zerolog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan *rpcResponse

	readerStarted bool
	done          chan struct{}

	tools   []ToolDescriptor
	schemas map[string]*toolSchema

	closeOnce sync.Once
	closeErr  error
}

// Open starts the server process, performs the initialize handshake and
// snapshots the advertised tools. On failure everything already started is
// torn down before returning.
func Open(ctx context.Context, opts Options) (*Connection, error) {
	if strings.TrimSpace(opts.EndpointURL) == "" {
		return nil, ErrEndpointRequired
	}
	opts = withDefaults(opts)

	ctx, span := tracing.StartSpan(ctx, "chainscout.toolserver", "toolserver.open",
		attribute.String("command", opts.Command),
	)
	defer span.End()

	c := &Connection{
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "toolserver").Logger(),
		pending: make(map[int]chan *rpcResponse),
		done:    make(chan struct{}),
		schemas: make(map[string]*toolSchema),
	}

	if err := c.start(); err != nil {
		_ = c.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ConnectionError{Stage: "spawn", Err: err}
	}

	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ConnectionError{Stage: "initialize", Err: err}
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		_ = c.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ConnectionError{Stage: "tools/list", Err: err}
	}
	c.tools = tools
	for _, tool := range tools {
		schema, err := compileSchema(tool.InputSchema)
		if err != nil {
			c.logger.Warn().Err(err).Str("tool", tool.Name).Msg("Input schema not usable, arguments will not be validated")
		}
		c.schemas[tool.Name] = schema
	}

	c.logger.Info().
		Int("tools", len(tools)).
		Int("pid", c.cmd.Process.Pid).
		Msg("Tool server ready")
	span.SetAttributes(attribute.Int("tools", len(tools)))

	return c, nil
}

func withDefaults(opts Options) Options {
	if strings.TrimSpace(opts.Command) == "" {
		opts.Command = DefaultCommand
		if len(opts.Args) == 0 {
			opts.Args = DefaultArgs()
		}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	if opts.ClientName == "" {
		opts.ClientName = "chainscout"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "0.1.0"
	}
	return opts
}

func (c *Connection) start() error {
	cmd := exec.Command(c.opts.Command, c.opts.Args...)
	cmd.Dir = c.opts.WorkingDir
	cmd.Env = buildEnv(c.opts)
	cmd.Stderr = &stderrLogger{logger: c.logger}
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	c.cmd = cmd
	c.stdin = stdin
	c.readerStarted = true

	go c.listen(stdout)

	c.logger.Debug().
		Str("command", c.opts.Command).
		Strs("args", c.opts.Args).
		Int("pid", cmd.Process.Pid).
		Msg("Tool server process started")

	return nil
}

// buildEnv merges the parent environment, ExtraEnv and the endpoint. The
// endpoint is applied last so it always wins.
func buildEnv(opts Options) []string {
	merged := make(map[string]string)
	if opts.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
	}
	for k, v := range opts.ExtraEnv {
		merged[k] = v
	}
	merged[EndpointEnvVar] = opts.EndpointURL

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

func (c *Connection) listen(stdout io.Reader) {
	defer func() {
		close(c.done)
		c.logger.Debug().Msg("Tool server stdout closed")
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring non JSON-RPC output from tool server")
			continue
		}

		if resp.ID == nil || resp.Method != "" {
			// Notifications and server-initiated requests are not used here.
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[*resp.ID]
		if exists {
			delete(c.pending, *resp.ID)
		}
		c.mu.Unlock()

		if exists {
			ch <- &resp
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Tool server stream read failed")
	}
}

func (c *Connection) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (c *Connection) call(ctx context.Context, method string, params interface{}) (*rpcResponse, error) {
	select {
	case <-c.done:
		return nil, ErrConnectionClosed
	default:
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: &id}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %v", ErrCallTimeout, method, c.opts.CallTimeout)
	}
}

func (c *Connection) notify(method string, params interface{}) error {
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Connection) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    c.opts.ClientName,
			"version": c.opts.ClientVersion,
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return err
	}
	return c.notify("notifications/initialized", nil)
}

func (c *Connection) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	var tools []ToolDescriptor
	cursor := ""
	seen := map[string]bool{}

	for {
		var params interface{}
		if cursor != "" {
			params = map[string]interface{}{"cursor": cursor}
		}

		resp, err := c.call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}

		var page struct {
			Tools      []ToolDescriptor `json:"tools"`
			NextCursor string           `json:"nextCursor"`
		}
		if err := json.Unmarshal(resp.Result, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}

		for _, tool := range page.Tools {
			if strings.TrimSpace(tool.Name) == "" {
				c.logger.Warn().Msg("Skipping tool without a name")
				continue
			}
			tools = append(tools, tool)
		}

		if page.NextCursor == "" {
			return tools, nil
		}
		if seen[page.NextCursor] {
			return nil, fmt.Errorf("%w: %q", ErrCursorCycle, page.NextCursor)
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

// ListTools returns a copy of the tool snapshot taken during Open.
func (c *Connection) ListTools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool dispatches one tool call and waits for its result.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]interface{}) (CallResult, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "chainscout.toolserver", "toolserver.call",
		attribute.String("tool", name),
	)
	defer span.End()

	result, err := c.callTool(ctx, name, args)
	success := err == nil && !result.IsError
	observability.RecordToolCall(name, time.Since(start), success)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *Connection) callTool(ctx context.Context, name string, args map[string]interface{}) (CallResult, error) {
	schema, known := c.schemas[name]
	if !known {
		return CallResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := schema.validate(args); err != nil {
		return CallResult{}, fmt.Errorf("%w for %s: %v", ErrInvalidArguments, name, err)
	}

	c.logger.Debug().Str("tool", name).Interface("args", args).Msg("Calling tool")

	resp, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return CallResult{}, err
	}

	return parseCallResult(resp.Result), nil
}

// Close stops the server process. It is safe to call more than once and on a
// connection whose Open failed part way.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.stdin != nil {
			_ = c.stdin.Close()
		}
		if c.cmd == nil || c.cmd.Process == nil {
			return
		}

		waitCh := make(chan error, 1)
		go func() {
			waitCh <- c.cmd.Wait()
		}()

		var err error
		select {
		case err = <-waitCh:
		case <-time.After(c.opts.CloseGrace):
			c.logger.Debug().Msg("Tool server did not exit after stdin closed, killing")
			killProcess(c.cmd)
			err = <-waitCh
		}

		if c.readerStarted {
			<-c.done
		}

		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				c.closeErr = err
			}
		}

		c.logger.Info().Msg("Tool server stopped")
	})
	return c.closeErr
}

type stderrLogger struct {
	logger zerolog.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			w.logger.Debug().Str("stream", "stderr").Msg(line)
		}
	}
	return len(p), nil
}
