package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one telemetry event. Events carry only the redacted command
// form; they are consumed by watch-mode output and may end up in logs.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	// Source identifies the component that raised the event.
	Source string `json:"source"`

	// RunID is the reconciliation run, when the event belongs to one.
	RunID string `json:"run_id,omitempty"`

	// Target is the iLO endpoint the event concerns, if applicable.
	Target string `json:"target,omitempty"`

	// Domain is the configuration domain (power, boot, ...), if applicable.
	Domain string `json:"domain,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is info, warning, or error.
	Level string `json:"level"`

	// Data carries event-specific values.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types raised by the engine and its callers.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeDriftDetected   = "drift.detected"
	EventTypePolicyViolation = "policy.violation"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants the event.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventPublisher fans events out to subscribers, optionally batching
// them on a background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewEventPublisher creates an event publisher. A disabled publisher
// accepts every call and does nothing.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.drain()
	}
	return ep, nil
}

// Publish hands an event to subscribers. In async mode a full buffer
// drops the event rather than blocking the reconcile path.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliver(event)
	return nil
}

// PublishRunStarted raises run.started.
func (ep *EventPublisher) PublishRunStarted(runID, target, domain string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		RunID:   runID,
		Target:  target,
		Domain:  domain,
		Message: fmt.Sprintf("Run %s started: %s on %s", runID, domain, target),
		Level:   EventLevelInfo,
	})
}

// PublishRunCompleted raises run.completed.
func (ep *EventPublisher) PublishRunCompleted(runID, target, domain string, changed bool, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Target:  target,
		Domain:  domain,
		Message: fmt.Sprintf("Run %s completed (changed=%t)", runID, changed),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"changed":  changed,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed raises run.failed with the error class.
func (ep *EventPublisher) PublishRunFailed(runID, target, domain, class, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "engine",
		RunID:   runID,
		Target:  target,
		Domain:  domain,
		Message: fmt.Sprintf("Run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"class":  class,
			"reason": reason,
		},
	})
}

// PublishDriftDetected raises drift.detected, used when a fetch finds
// device state diverging from what was last recorded.
func (ep *EventPublisher) PublishDriftDetected(target, domain string, planSize int) error {
	return ep.Publish(Event{
		Type:    EventTypeDriftDetected,
		Source:  "watcher",
		Target:  target,
		Domain:  domain,
		Message: fmt.Sprintf("Drift detected on %s: %s needs %d commands", target, domain, planSize),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"plan_size": planSize,
		},
	})
}

// PublishPolicyViolation raises policy.violation for a vetoed plan.
func (ep *EventPublisher) PublishPolicyViolation(target, domain, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Target:  target,
		Domain:  domain,
		Message: fmt.Sprintf("Policy violation on %s: %s - %s", target, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe registers a subscriber. A nil filter receives everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// drain batches buffered events, flushing when the batch is full, on
// the flush interval, and at shutdown.
func (ep *EventPublisher) drain() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliver(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.ctx.Done():
			flush()
			return
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		// Subscribers must not block delivery.
		go entry.subscriber(event)
	}
}

// Shutdown stops the publisher, flushing whatever is buffered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel admits events at or above minLevel.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByType admits only the given event types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTarget admits only events for one endpoint.
func FilterByTarget(target string) EventFilter {
	return func(event Event) bool {
		return event.Target == target
	}
}
