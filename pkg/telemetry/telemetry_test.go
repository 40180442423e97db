package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/reconcile"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:       "default config is valid",
			modifyFunc: func(c *Config) {},
		},
		{
			name:        "missing service name",
			modifyFunc:  func(c *Config) { c.ServiceName = "" },
			expectError: true,
			errorMsg:    "service name is required",
		},
		{
			name:        "bad log level",
			modifyFunc:  func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name:        "bad log format",
			modifyFunc:  func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "invalid log format",
		},
		{
			name: "bad trace exporter",
			modifyFunc: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			expectError: true,
			errorMsg:    "invalid trace exporter",
		},
		{
			name:        "sampling rate out of range",
			modifyFunc:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			expectError: true,
			errorMsg:    "sampling rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFunc(cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// None of these should panic on a disabled collector.
	m.CommandExecuted(domain.KindPower, reconcile.PhaseExecuting, time.Second, nil)
	m.ReconcileCompleted(domain.KindPower, reconcile.PhaseDone, true, time.Second)
	m.SessionOpened()
	m.SessionClosed()
	m.RecordError("channel_error")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestMetricsObserver(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:   true,
		Namespace: "iloctl",
	})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.CommandExecuted(domain.KindBoot, reconcile.PhaseFetching, 250*time.Millisecond, nil)
	m.CommandExecuted(domain.KindBoot, reconcile.PhaseExecuting, time.Second,
		reconcile.NewDeviceBusyError("device busy", nil))
	m.ReconcileCompleted(domain.KindBoot, reconcile.PhaseDone, true, 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint status = %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"iloctl_commands_executed_total",
		"iloctl_reconciles_completed_total",
		"iloctl_errors_by_class_total",
		`class="device_busy"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestEventPublisherSyncDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:    true,
		BufferSize: 8,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}

	received := make(chan Event, 1)
	ep.Subscribe(func(ev Event) { received <- ev }, nil)

	if err := ep.PublishRunStarted("run-1", "10.0.0.50", "power"); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	select {
	case ev := <-received:
		if ev.Type != EventTypeRunStarted {
			t.Errorf("event type = %q", ev.Type)
		}
		if ev.ID == "" {
			t.Error("expected event ID to be assigned")
		}
		if ev.Target != "10.0.0.50" {
			t.Errorf("event target = %q", ev.Target)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestEventFilters(t *testing.T) {
	errOnly := FilterByLevel(EventLevelError)
	if errOnly(Event{Level: EventLevelInfo}) {
		t.Error("info event passed error-level filter")
	}
	if !errOnly(Event{Level: EventLevelError}) {
		t.Error("error event blocked by error-level filter")
	}

	typed := FilterByType(EventTypeDriftDetected)
	if typed(Event{Type: EventTypeRunStarted}) {
		t.Error("unrelated type passed type filter")
	}
	if !typed(Event{Type: EventTypeDriftDetected}) {
		t.Error("matching type blocked by type filter")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "trace",
		"debug":   "debug",
		"info":    "info",
		"warn":    "warn",
		"error":   "error",
		"fatal":   "fatal",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range cases {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoggerRejectsUnwritableOutput(t *testing.T) {
	_, err := NewLogger(LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "/nonexistent-dir/iloctl.log",
	})
	if err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}

func TestRecordErrorNilIsNoop(t *testing.T) {
	span := trace.SpanFromContext(context.Background())
	// A nil error must not mark the span as failed.
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
}
