// Package config loads kernel configuration.
//
// Layers, later wins:
//   - Default(): built-in values
//   - System file: TOML, /etc/system_conf.toml on device
//   - Environment: FMRB_-prefixed variables
//
// Example system file:
//
//	system_name = "Family mruby OS"
//	debug_mode = false
//	log_level = "info"
//
//	[kernel]
//	tick_ms = 16
//	initial_apps = ["system/gui_app"]
//	handshake_timeout_ms = 5000
//
// Environment Variables:
//   - FMRB_SYSTEM_NAME, FMRB_DEBUG_MODE, FMRB_LOG_LEVEL
//   - FMRB_KERNEL_TICK_MS, FMRB_KERNEL_MAX_APPS, FMRB_KERNEL_INITIAL_APPS, FMRB_KERNEL_CODEC
//   - FMRB_HOST_MODE, FMRB_HOST_LINK_URL, FMRB_HOST_APPS_DIR, FMRB_HOST_MAILBOX_SIZE
//   - FMRB_ADMIN_ENABLED, FMRB_ADMIN_ADDR, FMRB_ADMIN_RATE_LIMIT_RPS, FMRB_ADMIN_CORS_ORIGINS
package config
