package config

import (
	"testing"
)

func TestSchemaRegistry_Builtins(t *testing.T) {
	sr := NewSchemaRegistry()

	names := sr.ListSchemas()
	if len(names) != 2 || names[0] != SchemaModule || names[1] != SchemaSettings {
		t.Errorf("unexpected schemas: %v", names)
	}

	if _, ok := sr.GetSchema(SchemaSettings); !ok {
		t.Error("expected settings schema")
	}
	if _, ok := sr.GetSchema("nope"); ok {
		t.Error("expected unknown schema to be missing")
	}
}

func TestSchemaRegistry_ValidateModule(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		module  ModuleConfig
		wantErr bool
	}{
		{
			name:   "minimal",
			module: ModuleConfig{ID: "A", Dependencies: []string{}},
		},
		{
			name:   "with dependencies",
			module: ModuleConfig{ID: "A", Dependencies: []string{"B", "C"}},
		},
		{
			name:    "whitespace in id",
			module:  ModuleConfig{ID: "A B", Dependencies: []string{}},
			wantErr: true,
		},
		{
			name:    "empty dependency",
			module:  ModuleConfig{ID: "A", Dependencies: []string{""}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateModule(tt.module)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("tag", `#Tag: string & =~"^[a-z]+$"`, "#Tag"); err != nil {
		t.Fatalf("RegisterSchema() returned error: %v", err)
	}
	if err := sr.ValidateAgainstSchema("tag", "survival"); err != nil {
		t.Errorf("expected valid tag, got %v", err)
	}
	if err := sr.ValidateAgainstSchema("tag", "Survival"); err == nil {
		t.Error("expected invalid tag")
	}

	if err := sr.RegisterSchema("broken", `#X: {`, "#X"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", `#X: int`, "#Y"); err == nil {
		t.Error("expected missing definition error")
	}
	if err := sr.ValidateAgainstSchema("nope", 1); err == nil {
		t.Error("expected unknown schema error")
	}
}
