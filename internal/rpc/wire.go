package rpc

import "encoding/json"

// Frame types on the wire.
const (
	frameResult     = "result"
	frameError      = "error"
	frameSubscribed = "subscribed"
	frameUpdate     = "update"
	frameClosed     = "closed"
)

// Server error codes.
const (
	CodeNotFound     = "not_found"
	CodeInvalidState = "invalid_state"
	CodeBadRequest   = "bad_request"
	CodeUnavailable  = "unavailable"
	CodeAborted      = "aborted"
	CodeDeadline     = "deadline"
	CodeInternal     = "internal"
)

// Request is a client-to-server frame.
type Request struct {
	ID     int64       `json:"id"`
	Op     string      `json:"op"`
	Params interface{} `json:"params,omitempty"`
}

// frame is the single server-to-client frame shape. Unary responses carry an
// ID; stream frames carry a SID.
type frame struct {
	ID   int64           `json:"id,omitempty"`
	Type string          `json:"type"`
	SID  int64           `json:"sid,omitempty"`
	Msg  json.RawMessage `json:"msg,omitempty"`
}

// ErrorBody is the msg payload of an "error" frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscribedBody is the msg payload of a "subscribed" frame.
type SubscribedBody struct {
	SID int64 `json:"sid"`
}

// UnsubscribeParams are the params of the "unsubscribe" operation.
type UnsubscribeParams struct {
	SID int64 `json:"sid"`
}
