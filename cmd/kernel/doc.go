// Package main runs the Family mruby kernel.
//
// The kernel owns the window registry, message bus, process table and input
// router, and ticks them on a single goroutine. Applications run in a process
// host: in-process (local) or behind a WebSocket link to a separate host
// binary (see cmd/host).
//
// Configuration:
//   - TOML system file (-config, FMRB_SYSTEM_CONF, default /etc/system_conf.toml)
//   - Environment variables prefixed FMRB_
//   - CLI flags override both
//
// Usage:
//
//	# In-process host, apps scanned from ./apps
//	./kernel -apps ./apps
//
//	# Remote host
//	FMRB_HOST_MODE=link FMRB_HOST_LINK_URL=ws://device:7070/link ./kernel
//
//	# Development mode (debug level, console logs)
//	./kernel -dev
//
// The admin API (default 127.0.0.1:8700) exposes windows, processes, input
// state and /metrics.
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
