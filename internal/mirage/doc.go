// Package mirage owns the control-plane side of the command protocol.
//
// Ownership boundary:
// - command publishing with generated msgids
// - reply collection and correlation by msgid
// - the tcp hub agents connect to (publish and collect sockets)
//
// Mirage does not execute commands. Delivery is best effort: a command
// published while no agent is subscribed is lost.
package mirage
