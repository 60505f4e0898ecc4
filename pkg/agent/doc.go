// Package agent runs one natural-language query through an LLM provider and
// the tool server, exposing the run as a pull-based stream of events.
//
// Invariants:
// - A stream is finite, ordered and cannot be restarted.
// - Every ToolCallRequest is followed by its ToolCallResult or ToolError.
// - Exactly one terminal event (Completion or FatalError) ends a stream.
// - A Client runs at most one query at a time.
//
// Usage:
//
//	client, _ := agent.New(agent.Config{
//		Model:       "claude-sonnet-4-20250514",
//		Instruction: agent.DefaultInstruction,
//		Provider:    provider,
//		Tools:       conn,
//	})
//	stream := client.RunQuery(ctx, "Get details for the latest block.")
//	for ev, ok := stream.Next(); ok; ev, ok = stream.Next() {
//		_ = ev
//	}
package agent
