// Package log provides the structured logging abstraction used across logship.
//
// Components depend on the [Logger] interface only. Two implementations ship
// with the package: [ZerologAdapter], backed by zerolog, and [NoopLogger],
// which discards everything and is the default for embedded use and tests.
//
// # Usage
//
//	logger, err := log.NewZerologAdapter(log.Options{Level: "debug", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	logger.Info("flushed", log.String("group", "app"), log.Int("events", 42))
//
// # Custom Loggers
//
// Implement the four level methods to bridge logship into an existing
// logging setup:
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field)  { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field)  { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
package log
