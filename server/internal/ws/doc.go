// Package ws is the WebSocket transport for streamhub-server.
//
// Handler upgrades HTTP requests with gorilla/websocket and serves each
// socket as a Peer. A Peer owns one socket: readPump feeds inbound text
// frames to the relay in receipt order, writePump drains the bounded send
// queue and sends a ping every 9/10 of the pong wait.
//
// A peer is torn down, and the relay's Disconnect runs exactly once, when
//   - the client closes the socket or a read fails,
//   - no pong arrives within the pong wait,
//   - a frame exceeds the configured size limit, or
//   - the relay closes it (send queue overflow, eviction by a newer login).
//
// Inbound frames over the per-connection rate limit are dropped, not queued.
// Origins are checked against Settings on upgrade; requests without an Origin
// header (non-browser clients) are accepted.
//
// The relay endpoint is mounted at /ws by the server. Package fiberws serves
// the same Peer over fiber.
package ws
