// Package config loads the streamhub-server configuration from a YAML file
// and the environment.
//
// Load(path) starts from defaults(), unmarshals the file over them (an empty
// path skips the file), applies RELAY_* environment overrides, then
// validates. Keys:
//   - port:               listen port for WebSocket, REST, metrics and gRPC health (default 8080)
//   - transport:          gorilla | fiber (default gorilla)
//   - log_level:          debug | info | warn | error (default info)
//   - seed_file:          users/streams/follows to load at start; empty uses the built-in seed
//   - history_limit:      chat messages retained per stream (default 100)
//   - max_message_length: chat message limit in characters (default 500)
//   - max_frame_bytes:    largest inbound frame (default 64KiB)
//   - send_queue:         per-connection outbound queue depth (default 64)
//   - pong_wait:          keepalive timeout (default 60s)
//   - rate_limit:         per-connection inbound frames: per_second, burst
//   - allowed_origins:    upgrade Origin allow-list; empty or "*" allows all
//   - auth:               API key guard for REST and gRPC: mode, key_env, header
//   - webhooks:           notification forwarding targets: type, url_env
//
// Watch(ctx, path, onChange) reloads the file when it changes. Only
// log_level, max_message_length, rate_limit and allowed_origins take effect
// without a restart.
package config
