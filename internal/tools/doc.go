// Package tools provides host helpers shared by the agent runtime.
//
// Ownership boundary:
// - command execution helpers
// - exit status mapping
package tools
