// Package telemetry provides observability instrumentation for iloctl.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring reconciliation runs against iLO endpoints.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async event system for watch-mode output
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "iloctl"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with iLO-flavored field
// helpers:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID(runID).WithTarget("10.0.0.50").WithDomain("power")
//	logger.Info("starting reconciliation")
//	logger.WithError(err).Error("reconciliation failed")
//
// Command text reaching the logger is always the redacted form; raw CLP
// commands may carry credentials.
//
// # Metrics
//
// Metrics implements reconcile.Observer, so the collector plugs straight
// into the engine:
//
//	metrics, _ := telemetry.NewMetrics(cfg.Metrics)
//	engine := reconcile.New(transport, handler, reconcile.Options{
//	    Observer: metrics,
//	})
//
// # Events
//
// The event publisher feeds watch-mode progress output and drift
// notifications. Subscribers receive events asynchronously:
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Println(ev.Message)
//	}, telemetry.FilterByTarget("10.0.0.50"))
package telemetry
