// Package logship provides an embeddable shipper that delivers structured
// log records to CloudWatch Logs compatible services.
//
// Records are routed to a log group and stream, rendered into messages,
// packed into batches that respect the service limits and written in order
// with sequence token continuity. It can be used as the logship CLI or
// embedded as a library in other Go programs.
//
// # Basic Usage
//
// Streaming records from a source:
//
//	cfg := logship.DefaultConfig()
//	cfg.LogGroupName = "app"
//	cfg.UseTagAsStream = true
//	cfg.Input = "/var/log/app.jsonl"
//
//	s, err := logship.New(cfg, logship.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := s.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// Records can also be delivered synchronously without a source:
//
//	res, err := s.Flush(ctx, records)
//
// # Event Handling
//
// Implement [EventHandler] (embedding [BaseEventHandler] for no-op
// defaults) and pass it via [WithEventHandler]. Events are called
// synchronously from the flush goroutine and should return quickly.
//
// # Dependency Injection
//
// For testing, the log service, record source, checkpoint repository and
// HTTP client can be replaced:
//
//	s, err := logship.New(cfg,
//	    logship.WithLogService(memoryService),
//	    logship.WithSource(source),
//	)
//
// # Lifecycle States
//
// A Shipper is in one of five states: [StateStopped], [StateStarting],
// [StateRunning], [StateStopping] or [StateCrashed]. Use [Shipper.Status]
// to query the current state.
package logship
