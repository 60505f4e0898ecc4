// Package session owns the lifetime of one run: it validates configuration,
// opens the tool server, builds the agent, delegates to the runner and
// releases the tool server exactly once on every exit path.
package session
