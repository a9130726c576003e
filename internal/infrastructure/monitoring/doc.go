/*
Package monitoring provides Prometheus metrics for the kernel.

# Overview

Every kernel owns a Metrics value with a private registry, so tests can run
several kernels side by side without duplicate registration panics.

# Metrics

- Message bus: dispatched, dropped (by reason), failed deliveries
- Processes: spawns by result, live processes and windows, control commands
- Input: capture transitions, window cache refreshes
- Loop: tick work histogram, rolling mean/stddev/p99, inbox depth
- Host link: frames by direction and kind, open connections
- Admin HTTP: requests and latency

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", monitoring.Handler(metrics))
*/
package monitoring
