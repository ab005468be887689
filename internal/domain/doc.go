// Package domain contains the entities and value objects of logship.
//
// It has no infrastructure dependencies. Everything the delivery engine
// reasons about lives here:
//
//   - [Record]: a structured log record with tag and timestamp
//   - [Value]: the closed set of field value kinds a record may carry
//   - [Event]: a rendered, wire-ready message with a millisecond timestamp
//   - [Batch]: an ordered group of events sent in one request
//   - [Target]: a (group, stream) destination
//   - [StreamState]: the continuity token and existence of one target
//   - [Outcome]: the classified result of one write attempt
//   - [Checkpoint]: a persisted snapshot of continuity tokens
package domain
