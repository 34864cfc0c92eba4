// Package auth guards the operator surfaces of streamhub-server (REST API,
// metrics and the gRPC health service) with a shared API key.
//
// New(mode, header, key) returns a Guard. When mode != "apikey" or key == ""
// every request passes (local development). Otherwise the key is read from
// the named HTTP header or gRPC metadata key and compared in constant time;
// a mismatch is rejected with 401 or codes.Unauthenticated.
//
// WebSocket relay clients are never checked here.
package auth
