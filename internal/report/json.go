package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/toolserver"
)

// Summary tallies a run.
type Summary struct {
	Total     int                      `json:"total"`
	Completed int                      `json:"completed"`
	ByKind    map[runner.ErrorKind]int `json:"failed_by_kind,omitempty"`
}

// Summarize counts completed and failed results.
func Summarize(results []runner.RunResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.OK() {
			s.Completed++
			continue
		}
		if s.ByKind == nil {
			s.ByKind = map[runner.ErrorKind]int{}
		}
		s.ByKind[r.ErrorKind]++
	}
	return s
}

// Report is the JSON document written by run --report.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Endpoint    string             `json:"endpoint,omitempty"`
	Model       string             `json:"model,omitempty"`
	Summary     Summary            `json:"summary"`
	Results     []runner.RunResult `json:"results"`
}

// NewReport builds a report for results.
func NewReport(results []runner.RunResult) *Report {
	if results == nil {
		results = []runner.RunResult{}
	}
	return &Report{
		GeneratedAt: time.Now().UTC(),
		Summary:     Summarize(results),
		Results:     results,
	}
}

// Encode writes the report as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteFile writes v as indented JSON, replacing path atomically.
func WriteFile(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chainscout-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ToolListing is the JSON document written by the tools command.
type ToolListing struct {
	Endpoint string                      `json:"endpoint"`
	Count    int                         `json:"count"`
	Tools    []toolserver.ToolDescriptor `json:"tools"`
}

// NewToolListing wraps a tool snapshot.
func NewToolListing(endpoint string, tools []toolserver.ToolDescriptor) ToolListing {
	if tools == nil {
		tools = []toolserver.ToolDescriptor{}
	}
	return ToolListing{Endpoint: endpoint, Count: len(tools), Tools: tools}
}

// PrintTools writes a human readable tool list.
func PrintTools(w io.Writer, tools []toolserver.ToolDescriptor) {
	fmt.Fprintf(w, "Found %d tools:\n", len(tools))
	for _, tool := range tools {
		fmt.Fprintf(w, "\n- %s\n", tool.Name)
		if tool.Description != "" {
			fmt.Fprintf(w, "  %s\n", tool.Description)
		}
		if len(tool.InputSchema) > 0 {
			fmt.Fprintf(w, "  schema: %s\n", tool.InputSchema)
		}
	}
}
