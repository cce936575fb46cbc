package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/engine"
)

// Event is a message published to subscribers: a pass notification or an engine lifecycle event.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	ProfileID string                 `json:"profile_id,omitempty"`
	PassID    string                 `json:"pass_id,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Details   []string               `json:"details,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeNotification     = "notification"
	EventTypePassCompleted    = "pass.completed"
	EventTypeInventoryChanged = "inventory.changed"
	EventTypePolicyReloaded   = "policy.reloaded"
)

// Event levels mirror notification severities.
const (
	EventLevelInfo    = string(engine.SeverityInfo)
	EventLevelWarning = string(engine.SeverityWarning)
	EventLevelError   = string(engine.SeverityError)
)

// EventSubscriber handles delivered events. Subscribers must not block.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, synchronously or from a
// background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.EnableAsync && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishNotification publishes a pass notification for a profile.
func (ep *EventPublisher) PublishNotification(profileID string, n engine.Notification) error {
	return ep.Publish(Event{
		ID:        n.ID,
		Type:      EventTypeNotification,
		Source:    "pipeline",
		ProfileID: profileID,
		Message:   n.Message,
		Level:     string(n.Severity),
		Details:   n.Details,
	})
}

// PublishPassCompleted publishes the outcome of a finished pass.
func (ep *EventPublisher) PublishPassCompleted(record *engine.PassRecord) error {
	level := EventLevelInfo
	switch record.Status {
	case engine.PassStatusFailed:
		level = EventLevelError
	case engine.PassStatusFallback, engine.PassStatusDiscarded:
		level = EventLevelWarning
	}

	return ep.Publish(Event{
		Type:      EventTypePassCompleted,
		Source:    "scheduler",
		ProfileID: record.ProfileID,
		PassID:    record.ID,
		Message:   fmt.Sprintf("Pass %s finished with status %s", record.ID, record.Status),
		Level:     level,
		Data: map[string]interface{}{
			"status":            string(record.Status),
			"duration":          record.CompletedAt.Sub(record.StartedAt).Seconds(),
			"inventory_version": record.InventoryVersion,
			"notifications":     len(record.Notifications),
		},
	})
}

// PublishInventoryChanged publishes a module inventory change.
func (ep *EventPublisher) PublishInventoryChanged(version uint64, modules int) error {
	return ep.Publish(Event{
		Type:    EventTypeInventoryChanged,
		Source:  "inventory",
		Message: fmt.Sprintf("Module inventory changed (version %d, %d modules)", version, modules),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"version": version,
			"modules": modules,
		},
	})
}

// PublishPolicyReloaded publishes a policy reload.
func (ep *EventPublisher) PublishPolicyReloaded(count int, err error) error {
	event := Event{
		Type:    EventTypePolicyReloaded,
		Source:  "policy_engine",
		Message: fmt.Sprintf("Reloaded %d custom policies", count),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"policies": count},
	}
	if err != nil {
		event.Message = fmt.Sprintf("Policy reload failed: %v", err)
		event.Level = EventLevelError
	}
	return ep.Publish(event)
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events until shutdown, then drains the buffer.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
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

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByProfile creates a filter that only allows events for a specific profile.
func FilterByProfile(profileID string) EventFilter {
	return func(event Event) bool {
		return event.ProfileID == profileID
	}
}

// Notifier delivers pass notifications as log lines and published events.
// It implements engine.Notifier.
type Notifier struct {
	events *EventPublisher
	logger zerolog.Logger
}

var _ engine.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier publishing to events. events may be nil.
func NewNotifier(events *EventPublisher, logger zerolog.Logger) *Notifier {
	return &Notifier{
		events: events,
		logger: logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify logs the notification at its severity and publishes it.
func (n *Notifier) Notify(_ context.Context, profileID string, note engine.Notification) error {
	var event *zerolog.Event
	switch note.Severity {
	case engine.SeverityError:
		event = n.logger.Error()
	case engine.SeverityWarning:
		event = n.logger.Warn()
	default:
		event = n.logger.Info()
	}
	event.Str("profile_id", profileID).Strs("details", note.Details).Msg(note.Message)

	if n.events == nil {
		return nil
	}
	return n.events.PublishNotification(profileID, note)
}
