// Package types defines the wire types shared by streamhub-server and the Go
// client in pkg/client: the JSON envelope, the inbound and outbound payloads,
// and the public entity shapes the relay sends to clients.
package types
