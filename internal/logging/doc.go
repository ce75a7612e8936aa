// Package logging provides structured logging for portaldocs commands.
//
// It wraps Go's log/slog. Every CLI invocation is a short-lived process, so
// there are two sinks:
//
//   - With a log directory configured, JSON records are appended to
//     {dir}/portaldocs.log through a size-based [RotatingWriter]. Concurrent
//     invocations each append whole records.
//   - Without one, records go to stderr through a tint handler, coloured only
//     when stderr is a terminal.
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Options{Dir: "/var/log/portal", Level: "info"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	docLogger := logger.WithDocument("rbac")
//	docLogger.Info("document written", "bytes", 512)
//
// Child loggers created with With* share the parent's sink.
//
// # Thread Safety
//
// [Logger] and [RotatingWriter] are safe for concurrent use.
package logging
