// Package main runs a standalone process host.
//
// The host instantiates applications (builtins and JavaScript apps found
// under the apps directory) and serves them to one kernel over a WebSocket
// link at /link. Frames are msgpack bodies behind a 16-byte header, zstd
// compressed above the configured threshold.
//
// Usage:
//
//	./host -listen :7070 -apps ./apps
//
// Pair with:
//
//	FMRB_HOST_MODE=link ./kernel
package main
