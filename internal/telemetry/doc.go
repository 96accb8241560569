// Package telemetry is the in-process message bus of the bridge.
//
// Publishers push payloads on named topics. Every topic has its own
// monotonic event ids and a bounded replay buffer; delivery to each
// subscriber is FIFO per topic. Slow subscribers lose events rather
// than stall publishers.
//
// Two kinds of subscriber exist: in-process subscriptions (the flight
// recorder, tests) and Server-Sent Events clients served by ServeSSE,
// which also receive heartbeats and may resume with Last-Event-ID.
package telemetry
