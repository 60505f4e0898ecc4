// Package report renders run progress for humans and writes run results as
// JSON artifacts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/chainscout/pkg/agent"
	"github.com/harun/chainscout/pkg/queryset"
	"github.com/harun/chainscout/pkg/runner"
)

const (
	rule = "-----------------------------------------------------"

	// previewLen bounds the tool result shown without --verbose.
	previewLen = 200
)

// Console prints query progress as plain text. It implements runner.Observer.
type Console struct {
	out     io.Writer
	verbose bool
}

var _ runner.Observer = (*Console)(nil)

// NewConsole creates a console observer. Verbose prints tool outputs too.
func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{out: out, verbose: verbose}
}

func (c *Console) QueryStarted(index, total int, spec queryset.QuerySpec) {
	fmt.Fprintf(c.out, "\n--- Running Query %d/%d: %s ---\n", index+1, total, spec.Description)
	fmt.Fprintf(c.out, "Query: %s\n", spec.Text)
}

func (c *Console) Event(index int, spec queryset.QuerySpec, ev agent.Event) {
	switch ev.Kind {
	case agent.ToolCallRequest:
		fmt.Fprintf(c.out, "  Tool call: %s %s\n", ev.Call.Name, formatArgs(ev.Call.Parameters))
	case agent.ToolCallResult:
		if c.verbose {
			fmt.Fprintf(c.out, "  Tool result: %s\n%s\n", ev.Result.ToolName, indent(ev.Result.Text))
		} else {
			fmt.Fprintf(c.out, "  Tool result: %s (%d bytes): %s\n", ev.Result.ToolName, len(ev.Result.Text), preview(ev.Result.Text, previewLen))
		}
	case agent.ToolError:
		name := ""
		if ev.Call != nil {
			name = ev.Call.Name
		}
		fmt.Fprintf(c.out, "  Tool error: %s: %s\n", name, ev.ErrorText())
	case agent.FatalError:
		fmt.Fprintf(c.out, "  Error: %s\n", ev.ErrorText())
	}
}

func (c *Console) QuerySettled(result runner.RunResult) {
	if result.OK() {
		fmt.Fprintf(c.out, "\nFinal response to '%s':\n%s\n", result.Description, result.Text)
	} else {
		fmt.Fprintf(c.out, "\nQuery '%s' failed (%s): %s\n", result.Description, result.ErrorKind, result.Error)
	}
	fmt.Fprintln(c.out, rule)
}

func (c *Console) Pausing(d time.Duration) {
	fmt.Fprintf(c.out, "Pausing for %s before next query...\n", d)
}

// PrintSummary writes a one-line tally of results.
func PrintSummary(out io.Writer, results []runner.RunResult) {
	s := Summarize(results)
	fmt.Fprintf(out, "\n%d queries: %d completed, %d failed", s.Total, s.Completed, s.Total-s.Completed)
	if len(s.ByKind) > 0 {
		parts := make([]string, 0, len(s.ByKind))
		for _, kind := range []runner.ErrorKind{runner.KindQuery, runner.KindUnexpected, runner.KindConnection, runner.KindInterrupted} {
			if n := s.ByKind[kind]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
			}
		}
		fmt.Fprintf(out, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintln(out)
}

func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n    ")
}

// preview flattens text onto one line and cuts it to at most n runes.
func preview(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}
