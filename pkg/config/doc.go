// Package config loads ordo configuration written in CUE.
//
// A configuration holds two top-level fields. settings configures the host:
// the profile being managed, the store, logging, metrics, tracing, the
// authoritative normalizer, custom policies and the watcher. modules is the
// installed module inventory, written either as a list or as a struct keyed
// by module id.
//
//	settings: {
//	    profile:  "survival"
//	    autoSort: true
//	    normalizer: {kind: "script", path: "sort.star"}
//	}
//
//	modules: {
//	    "Core.Engine": {official: true}
//	    "Better.Trees": {dependencies: ["Core.Engine"]}
//	}
//
// Sources are unified, then checked against the built-in #Settings and
// #Module schemas, which also supply defaults. Decoded values are checked
// once more with struct tags. Problems are reported as ValidationError
// values carrying file positions where CUE knows them.
//
//	loader := config.NewLoader()
//	file, err := loader.LoadFile(ctx, "ordo.cue")
//	if err != nil {
//	    return err
//	}
//	if err := file.Err(); err != nil {
//	    return err
//	}
//	inv := inventory.NewStatic(file.ModuleRecords())
package config
