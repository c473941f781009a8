// Package state keeps per-user conversation sessions: a state tag plus a small
// scratch map. Sessions are written through to a persist.KV namespace on every
// change and expire after a configurable idle period.
package state
