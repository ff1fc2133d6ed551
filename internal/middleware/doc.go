// Package middleware provides HTTP middleware for the comparison server.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with session ids folded into one label
//   - gzip compression of JSON responses
//
// The logging and metrics wrappers pass Flush and Hijack through so that MJPEG
// streams and WebSocket upgrades work behind the chain.
package middleware
