package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/piwi3910/iloctl/pkg/reconcile"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"channel", reconcile.NewChannelError("session dropped", nil), 2},
		{"device busy", reconcile.NewDeviceBusyError("syntax error scanning", nil), 3},
		{"unsupported", reconcile.NewUnsupportedError("no backplane", nil), 4},
		{"invalid request", reconcile.NewInvalidRequestError("bad privilege", nil), 5},
		{"malformed response", reconcile.NewMalformedResponseError("no status header", nil), 6},
		{"precondition", reconcile.NewPreconditionError("server is off", nil), 7},
		{"plain error", errors.New("boom"), 1},
		{
			"wrapped classified error",
			fmt.Errorf("target rack1: %w", reconcile.NewDeviceBusyError("busy", nil)),
			3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
