// Package protocol owns the command wire contract.
//
// A command is a multipart message:
//
//	[device_id][msgid][command_token][...args][checksum]
//
// where checksum is the little-endian SuperFastHash fold of every preceding
// frame. Replies are [device_id][msgid][answer_token] with an optional detail
// frame.
//
// Ownership boundary:
// - answer and command token tables
// - codec state machine and its error taxonomy
// - sender-side encode and reply construction
package protocol
