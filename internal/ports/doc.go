// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// # Port Interfaces
//
//   - [LogService]: Writes events to the remote log store and manages groups and streams
//   - [RecordSource]: Yields structured records from an input
//   - [CheckpointRepository]: Persists and loads continuity tokens
//   - [Logger]: Structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app, internal/delivery) depends only on
// these interfaces. Infrastructure adapters (internal/adapters) implement them
// with concrete implementations (HTTP, in-memory, file system, Redis, etc.).
package ports
