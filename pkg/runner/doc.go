// Package runner drives an ordered list of queries through an agent, one at a
// time, and turns every query into exactly one RunResult.
//
// A query's answer is the concatenation of its text chunks when the stream
// ends with completion. Fatal errors, malformed streams and panics are
// recorded on that query's result and the run moves on. Losing the tool
// server or cancelling the context stops the run; the queries that never
// executed still get a result.
package runner
