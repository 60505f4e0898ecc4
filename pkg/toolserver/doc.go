// Package toolserver runs a Model Context Protocol server as a stdio subprocess
// and exposes the tools it advertises.
//
// Invariants:
// - Tools are discovered once, during Open. The snapshot never changes afterwards.
// - Close is idempotent and always reaps the child process, including after a
//   partially failed Open.
// - Tool arguments are checked against the advertised input schema before dispatch.
//
// Usage:
//
//	conn, err := toolserver.Open(ctx, toolserver.Options{
//		EndpointURL: "https://eth.blockscout.com/api",
//	})
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	res, err := conn.CallTool(ctx, "get_latest_block", nil)
package toolserver
