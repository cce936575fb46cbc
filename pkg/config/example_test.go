package config_test

import (
	"context"
	"fmt"

	"github.com/ordomods/ordo/pkg/config"
)

func ExampleLoader_LoadInline() {
	loader := config.NewLoader()

	file, err := loader.LoadInline(context.Background(), `
settings: profile: "survival"
modules: {
	"Core.Engine": {official: true}
	"Better.Trees": {dependencies: ["Core.Engine"]}
}
`)
	if err != nil {
		panic(err)
	}
	if err := file.Err(); err != nil {
		panic(err)
	}

	fmt.Println(file.Settings.Profile, file.Settings.SortMode())
	for _, rec := range file.ModuleRecords() {
		fmt.Println(rec.ID, rec.Dependencies)
	}
	// Output:
	// survival auto
	// Core.Engine []
	// Better.Trees [Core.Engine]
}
