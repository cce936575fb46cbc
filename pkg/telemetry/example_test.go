package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/engine"
	"github.com/ordomods/ordo/pkg/telemetry"
)

// Example_basicSetup demonstrates building the telemetry bundle.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).NewComponentLogger("cli").Debug("telemetry ready")

	fmt.Println(tel.Config.ServiceName)
	// Output: ordo
}

// Example_notifications demonstrates subscribing to pass notifications.
func Example_notifications() {
	events, _ := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("[%s] %s: %v\n", e.Level, e.Message, e.Details)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	notifier := telemetry.NewNotifier(events, zerolog.Nop())
	ctx := context.Background()

	_ = notifier.Notify(ctx, "default", engine.Notification{
		Severity: engine.SeverityInfo,
		Message:  "Load order unchanged",
	})
	_ = notifier.Notify(ctx, "default", engine.Notification{
		Severity: engine.SeverityWarning,
		Message:  engine.MessageAutoCorrected,
		Details:  []string{`"Harmony" must load after "Native"`},
	})
	// Output: [warning] Load order was auto-corrected: ["Harmony" must load after "Native"]
}

// Example_operation demonstrates instrumenting an operation.
func Example_operation() {
	cfg := telemetry.DefaultConfig()
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	op := telemetry.StartOperation(ctx, "ordo.reconcile", telemetry.AttrProfileID.String("default"))
	time.Sleep(time.Millisecond)
	op.End(nil)

	fmt.Println(op.Timer.Duration() > 0)
	// Output: true
}
