package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a decision-engine telemetry event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// DecisionID ties the event to a recorded decision, if applicable.
	DecisionID string `json:"decision_id,omitempty"`

	// Policy is the associated policy name, if applicable.
	Policy string `json:"policy,omitempty"`

	// SubjectKind and Namespace identify the evaluated resource.
	SubjectKind string `json:"subject_kind,omitempty"`
	Namespace   string `json:"namespace,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event type constants.
const (
	EventTypeDecisionAllowed  = "decision.allowed"
	EventTypeDecisionDenied   = "decision.denied"
	EventTypeViolation        = "policy.violation"
	EventTypeRegistryReloaded = "registry.reloaded"
	EventTypeCheckFault       = "policy.check_fault"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventPublisher fans decision events out to subscribers, optionally on a
// buffered background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []EventSubscriber
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewEventPublisher creates an event publisher. A disabled config yields a
// no-op instance.
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
		go ep.processEvents()
	}

	return ep, nil
}

// Subscribe registers a subscriber for all future events.
func (ep *EventPublisher) Subscribe(sub EventSubscriber) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, sub)
}

// Publish publishes an event to all subscribers.
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

// PublishDecision publishes the outcome of one evaluation.
func (ep *EventPublisher) PublishDecision(decisionID, kind, namespace string, allowed bool, violations int) error {
	eventType := EventTypeDecisionAllowed
	message := fmt.Sprintf("%s/%s allowed", namespace, kind)
	if !allowed {
		eventType = EventTypeDecisionDenied
		message = fmt.Sprintf("%s/%s denied with %d violation(s)", namespace, kind, violations)
	}
	return ep.Publish(Event{
		Type:        eventType,
		DecisionID:  decisionID,
		SubjectKind: kind,
		Namespace:   namespace,
		Message:     message,
		Data: map[string]interface{}{
			"violations": violations,
		},
	})
}

// PublishViolation publishes one policy violation.
func (ep *EventPublisher) PublishViolation(decisionID, policy, level, message string) error {
	return ep.Publish(Event{
		Type:       EventTypeViolation,
		DecisionID: decisionID,
		Policy:     policy,
		Message:    message,
		Data: map[string]interface{}{
			"level": level,
		},
	})
}

// PublishRegistryReloaded publishes a successful registry reload.
func (ep *EventPublisher) PublishRegistryReloaded(policyCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeRegistryReloaded,
		Message: fmt.Sprintf("registry reloaded with %d policies", policyCount),
		Data: map[string]interface{}{
			"policies": policyCount,
		},
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case <-ep.ctx.Done():
			// Drain remaining buffered events before exiting.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		case event := <-ep.buffer:
			ep.deliver(event)
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := ep.subscribers
	ep.mu.RUnlock()
	for _, sub := range subs {
		sub(event)
	}
}

// Shutdown stops the publisher and waits for buffered events to drain.
func (ep *EventPublisher) Shutdown(_ context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.cancel()
	ep.wg.Wait()
	return nil
}
