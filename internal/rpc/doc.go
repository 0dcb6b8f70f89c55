// Package rpc implements the client side of the control-server wire
// protocol.
//
// A Session owns one WebSocket connection to one control-server endpoint
// (the manager endpoint or a single position endpoint) and exposes:
//   - Call: unary request/response with a per-call timeout
//   - Subscribe: server-streaming updates delivered through a Stream
//
// Every failure crossing the package boundary is a *ClientError; transport
// library error types never escape.
package rpc
