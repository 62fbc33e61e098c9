// Package ws exposes the JSON-RPC protocol over WebSocket connections.
//
// Each connection gets one reader, one writer, and one event pump. Requests
// are dispatched concurrently; responses are matched to requests by id, so
// callers may pipeline without waiting. Events are fanned in from the
// broadcaster and interleave freely with responses on the wire.
package ws
