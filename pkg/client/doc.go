// Package client is a Go client for the streamhub relay.
//
// A Client dials the relay's WebSocket endpoint, authenticates as a user and
// keeps a local view of that user's session: connection status, the set of
// followed users that are online, and the notification inbox. Every inbound
// envelope is folded into that view and then published on Events.
//
// When the connection drops the client redials with jittered exponential
// backoff, re-authenticates and rejoins the streams it had joined.
//
//	c := client.New("ws://localhost:8080/ws")
//	if err := c.Connect(ctx, "1"); err != nil { ... }
//	defer c.Close()
//	c.JoinStream("s1")
//	c.SendChatMessage("s1", "hello")
package client
