package telemetry

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/engine"
)

func TestEventPublisher_SyncDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var all, warnings []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { warnings = append(warnings, e) }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishNotification("default", engine.Notification{Severity: engine.SeverityInfo, Message: "one"})
	_ = ep.PublishNotification("default", engine.Notification{Severity: engine.SeverityWarning, Message: "two"})
	_ = ep.PublishNotification("other", engine.Notification{Severity: engine.SeverityError, Message: "three"})

	if len(all) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(all))
	}
	if all[0].Message != "one" || all[2].Message != "three" {
		t.Errorf("Expected events in publish order, got %q ... %q", all[0].Message, all[2].Message)
	}
	if all[0].ID == "" || all[0].Timestamp.IsZero() {
		t.Error("Expected id and timestamp to be filled in")
	}
	if len(warnings) != 2 {
		t.Errorf("Expected 2 warning-or-higher events, got %d", len(warnings))
	}
}

func TestEventPublisher_GlobalFilter(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeNotification))
	ep.AddFilter(FilterByProfile("default"))

	_ = ep.PublishNotification("default", engine.Notification{Severity: engine.SeverityInfo, Message: "kept"})
	_ = ep.PublishNotification("other", engine.Notification{Severity: engine.SeverityInfo, Message: "dropped"})
	_ = ep.PublishInventoryChanged(2, 10)

	if len(got) != 1 || got[0].Message != "kept" {
		t.Errorf("Expected only the default notification, got %+v", got)
	}
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var (
		mu  sync.Mutex
		got []string
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Message)
		mu.Unlock()
	}, nil)

	for _, msg := range []string{"a", "b", "c"} {
		if err := ep.Publish(Event{Type: EventTypeNotification, Level: EventLevelInfo, Message: msg}); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shut down: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, "") != "abc" {
		t.Errorf("Expected abc delivered in order, got %v", got)
	}

	if err := ep.Publish(Event{Message: "late"}); err == nil {
		t.Error("Expected publish after shutdown to fail")
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	called := false
	ep.Subscribe(func(Event) { called = true }, nil)
	if err := ep.Publish(Event{Message: "x"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if called {
		t.Error("Expected disabled publisher not to deliver")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestEventPublisher_PassCompletedLevel(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})

	var got Event
	ep.Subscribe(func(e Event) { got = e }, nil)

	_ = ep.PublishPassCompleted(&engine.PassRecord{ID: "p1", ProfileID: "default", Status: engine.PassStatusFallback})

	if got.Level != EventLevelWarning {
		t.Errorf("Expected warning for fallback pass, got %s", got.Level)
	}
	if got.PassID != "p1" || got.Data["status"] != "fallback" {
		t.Errorf("Expected pass id and status, got %+v", got)
	}
}

func TestNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, nil)

	n := NewNotifier(ep, logger)
	err := n.Notify(context.Background(), "default", engine.Notification{
		ID:       "n-1",
		Severity: engine.SeverityWarning,
		Message:  engine.MessageAutoCorrected,
		Details:  []string{`"Harmony" must load after "Native"`},
	})
	if err != nil {
		t.Fatalf("Failed to notify: %v", err)
	}

	if len(got) != 1 || got[0].ID != "n-1" || got[0].ProfileID != "default" {
		t.Errorf("Expected published notification, got %+v", got)
	}
	line := buf.String()
	if !strings.Contains(line, `"level":"warn"`) || !strings.Contains(line, engine.MessageAutoCorrected) {
		t.Errorf("Expected warning log line, got %s", line)
	}

	if err := NewNotifier(nil, zerolog.Nop()).Notify(context.Background(), "default", engine.Notification{}); err != nil {
		t.Errorf("Expected notifier without publisher to succeed, got %v", err)
	}
}
