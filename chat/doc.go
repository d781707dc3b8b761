// Package chat connects the live chat poller to the rest of the service.
//
// It provides:
//   - Attach: forwards poller start/end/chat events to one or more Sinks.
//   - StartAutoChatRecorder: a supervisor that re-runs Start on an interval so
//     the poller follows the channel from one broadcast to the next, and stops
//     it when the broadcast ends or the service shuts down.
//   - Recorder: a Sink that archives sessions and messages in the database.
//   - Hub: a Sink that fans events out to in-process subscribers (SSE and
//     WebSocket clients).
//
// Sinks are called synchronously from the poller's event listeners, in the
// order they were attached.
package chat
