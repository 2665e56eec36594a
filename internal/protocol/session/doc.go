// Package session owns stream transport helpers shared by the agent and the
// control plane.
//
// Ownership boundary:
// - connect/handshake/write timeouts
// - reconnect backoff
// - transport security validation and tls.Config construction
package session
