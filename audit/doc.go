// Package audit defines the append-only security event trail.
//
// # Components
//
//   - [Event] with the closed [Action] enumeration and [Status].
//   - [Sink] for event consumers (store appender, JSON writer, channel, fan-out).
//   - [Recorder] which stamps id and time and delivers with a bounded attempt,
//     swallowing sink failures so callers never observe them.
//   - [Dispatcher] which relays events asynchronously with drop-if-full.
//
// # What this package must NOT do
//
//   - Decide which events to emit. The Engine owns that.
//   - Return sink failures to the operation that produced the event.
package audit
