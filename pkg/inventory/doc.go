// Package inventory provides the installed module set consumed by the
// reconciliation scheduler.
//
// Static holds the modules in memory and versions every change, which lets
// the scheduler discard passes computed against an older inventory. Watcher
// keeps a Static in sync with the CUE configuration on disk: file events are
// debounced, the configuration is reloaded, and when the module set really
// changed the new version is reported through OnChange, the event publisher
// and the inventory_version gauge.
//
//	inv := inventory.NewStatic(file.ModuleRecords())
//	w, err := inventory.NewWatcher(inventory.WatcherConfig{
//	    Paths:     []string{"ordo.cue"},
//	    Inventory: inv,
//	    OnChange: func(ctx context.Context, _ uint64) {
//	        _, _ = scheduler.Submit(ctx, profileID)
//	    },
//	})
package inventory
