// Package logging builds the zap loggers used across the kernel and host.
//
// Production configuration writes JSON with stack traces disabled;
// development configuration writes colored console lines at debug level.
// The level comes from log_level in the system file or FMRB_LOG_LEVEL.
//
// Each subsystem gets a named child logger:
//
//	logger, err := logging.New(cfg.Logging())
//	k := kernel.New(h, kernel.WithLogger(logger.Component("kernel")))
//
// Kernel hot paths (dispatch, routing) log drops at debug level only.
package logging
