// Package http provides HTTP handlers and middleware for the scheduler API.
//
// The router exposes the following endpoints:
//   - GET /health: pings the storage backend.
//   - POST /negotiate: ranks candidate slots. Body: {"title","preferred_date",
//     "preferred_time","duration_minutes","participants"}. Nothing is written.
//   - POST /schedule: commits one ranked slot. Body: the negotiate body plus
//     "slot_index" and an optional "session_id". An out of range index answers
//     400 and a lost race answers 409, both with the schedule result as body.
//   - GET /sessions/{id}, GET /sessions/{id}/events: session snapshot and its
//     recorded event log.
//   - GET /participants, GET /calendar/{participant}?from=&to=,
//     POST /calendar/{participant}/blocks: calendar read surface and manual entry.
//   - GET /meetings, GET /meetings/{id}: committed meetings.
//   - GET /ws?topic=negotiation: websocket stream of negotiation events.
//
// Validation failures answer 422 and retryable faults answer 503 with a
// Retry-After header. Request/response DTOs live alongside their handlers.
package http
