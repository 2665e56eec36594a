// Package transport moves multipart messages between the agent and the
// control plane.
//
// Every transport is opened from an endpoint URL:
//
//	inproc://<topic>                     in-process Bus
//	redis://[user:pass@]host:port/db?channel=<name>
//	kafka://broker[,broker...]/<topic>
//	tcp://host:port                      stream to a mirage Hub
//
// Brokers that carry one opaque value per message wrap the frames with a
// Codec. Delivery is best effort throughout.
package transport
