// Package telemetry provides logging, tracing, metrics and notification
// delivery for ordo.
//
// # Logging
//
// Logger wraps zerolog with the fields the engine uses:
//
//	logger := tel.Logger.NewComponentLogger("scheduler").WithProfileID("default")
//	logger.Info("Pass committed")
//
// Components that take a zerolog.Logger directly receive tel.Logger.Zerolog().
//
// # Metrics
//
// Metrics implements engine.Recorder on a private Prometheus registry: passes by
// outcome, pass and normalizer durations, sort exclusions by reason, queued passes
// per profile and stale discards. Serve exposes the registry over HTTP.
//
// # Tracing
//
// Tracer configures an OpenTelemetry SDK provider with a stdout or OTLP gRPC
// exporter. Tracer.Tracer is passed to engine.PipelineConfig so that reconcile,
// validate and normalize steps become spans.
//
// # Notifications
//
// Notifier implements engine.Notifier. Each notification is logged at its
// severity and published on an EventPublisher, where subscribers can filter by
// level, type or profile:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//		fmt.Println(e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
