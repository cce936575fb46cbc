// Package stores provides the persistence layer for ordo.
//
// SQLiteStore keeps one persisted load order per profile together with the
// profile's sort mode, the history of reconciliation passes, the notifications
// each pass emitted, and an audit trail of order writes. The schema is applied
// from embedded migrations through golang-migrate.
//
// SQLiteStore satisfies engine.OrderStore and engine.PassRecorder, so a single
// store can back a Scheduler:
//
//	store, _ := stores.NewSQLiteStore(stores.Config{Path: "ordo.db"})
//	_ = store.Init(ctx)
//	_ = store.Migrate(ctx)
//	sched := engine.NewScheduler(engine.SchedulerConfig{Store: store, History: store, Inventory: inv})
package stores
