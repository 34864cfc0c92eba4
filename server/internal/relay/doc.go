// Package relay implements the realtime protocol: one dispatch table that
// turns inbound envelopes into store, presence and membership changes and
// fans the resulting events out to connections.
//
// Transports (see package ws) own the sockets. For each socket they call
// Connect once, Dispatch for every inbound frame in receipt order, and
// Disconnect once when the socket is gone, whatever the cause. Outbound
// delivery goes through Connection.Send, which only enqueues; recipient sets
// are computed under the component locks and delivered after releasing them.
//
// Connection states:
//
//	Unauthenticated --authenticate--> Authenticated --disconnect--> Closed
//
// Everything except authenticate is rejected with an Unauthenticated result
// until the connection is authenticated. Handler failures are sent back to
// the requester as <type>_result envelopes with success=false; they never
// close the connection. Frames that cannot be decoded, or whose type is
// unknown, are logged and dropped.
package relay
