// Package nats mirrors supervisor lifecycle events onto a NATS server and
// accepts start requests from other processes on the same host.
//
// The link is optional. When no URL is configured nothing connects, and when
// the server is unreachable the publisher logs once and keeps reconnecting in
// the background; supervision never depends on it.
//
// # Subject Hierarchy
//
//	shellkeeper.backend.{event}   # lifecycle events (shellkeeper → subscribers)
//	shellkeeper.control.start     # start request, request/reply (client → shellkeeper)
//
// Event subjects use the SSE event names with dashes replaced by
// underscores, for example shellkeeper.backend.state_changed and
// shellkeeper.backend.restart_scheduled. Payloads are the same JSON bodies
// the /api/events stream sends.
//
// # Debugging with nats CLI
//
// Watch every lifecycle event:
//
//	nats sub "shellkeeper.backend.>"
//
// Ask a running shellkeeper to start the backend again:
//
//	nats req shellkeeper.control.start '{"action":"start","reason":"manual"}'
//
// # Message Formats
//
// ControlMessage (shellkeeper.control.start):
//
//	{
//	  "action": "start",
//	  "timestamp": "2025-01-27T10:30:00Z",
//	  "reason": "manual"
//	}
//
// ControlReply:
//
//	{
//	  "ok": false,
//	  "code": "ALREADY_RUNNING",
//	  "error": "backend is already running"
//	}
package nats
