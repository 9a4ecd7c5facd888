// Package logging provides structured logging for selfvisor.
//
// This package wraps Go's log/slog to provide JSON-formatted logs tagged with
// the user and worker run they concern, so that the interleaved activity of
// many supervised workers can be filtered after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the parent's destination.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/selfvisor", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	sup := logger.WithPhase("supervisor")
//	sup.WithUser(42).WithRun(runID).Info("worker started", "pid", pid)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"worker started","phase":"supervisor","user_id":42,"run_id":"...","pid":1234}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named selfvisor.log.1 (newest) through selfvisor.log.N,
// with a .gz suffix when compression is enabled.
package logging
