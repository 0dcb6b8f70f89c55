package rpc

import (
	"errors"
	"testing"
)

func TestClientError_Retriable(t *testing.T) {
	tests := []struct {
		name string
		err  *ClientError
		want bool
	}{
		{"connection failed", ConnectionFailed("ws://localhost:9501/rpc", errors.New("refused")), true},
		{"timed out", TimedOut("get_run_state"), true},
		{"disconnected", Disconnected(), true},
		{"call failed unavailable", CallFailed("list_positions", CodeUnavailable, "busy"), true},
		{"call failed aborted", CallFailed("pause", CodeAborted, "aborted"), true},
		{"call failed deadline", CallFailed("stop", CodeDeadline, "deadline"), true},
		{"call failed invalid state", CallFailed("pause", CodeInvalidState, "not running"), false},
		{"call failed internal", CallFailed("stop", CodeInternal, "boom"), false},
		{"not found", NotFound("position", "P9"), false},
		{"protocol violation", ProtocolViolation("bad payload", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retriable(); got != tt.want {
				t.Errorf("Retriable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientError_DisplayMessage(t *testing.T) {
	err := ConnectionFailed("ws://localhost:9501/rpc", errors.New("refused"))
	if got := err.DisplayMessage(); got != "failed to connect to ws://localhost:9501/rpc" {
		t.Errorf("DisplayMessage() = %q", got)
	}

	err = NotFound("position", "P1")
	if got := err.DisplayMessage(); got != "position not found: P1" {
		t.Errorf("DisplayMessage() = %q", got)
	}

	err = TimedOut("get_run_state")
	if got := err.DisplayMessage(); got != "operation timed out: get_run_state" {
		t.Errorf("DisplayMessage() = %q", got)
	}

	if got := Disconnected().DisplayMessage(); got != "connection lost" {
		t.Errorf("DisplayMessage() = %q", got)
	}

	err = CallFailed("pause", CodeInvalidState, "cannot pause while idle")
	if got := err.DisplayMessage(); got != "pause: cannot pause while idle" {
		t.Errorf("DisplayMessage() = %q", got)
	}
}

func TestClientError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ConnectionFailed("ws://localhost:9501/rpc", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var ce *ClientError
	if !errors.As(error(err), &ce) {
		t.Fatal("errors.As should match *ClientError")
	}
	if ce.Kind != KindConnectionFailed {
		t.Errorf("Kind = %v, want KindConnectionFailed", ce.Kind)
	}
}
