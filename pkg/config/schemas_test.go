package config

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

func TestSchemaRegistryBuiltins(t *testing.T) {
	sr := NewSchemaRegistry(cuecontext.New())

	for _, name := range []string{SchemaState, SchemaInventory} {
		if _, ok := sr.Get(name); !ok {
			t.Errorf("built-in schema %s is not registered", name)
		}
	}
	if _, ok := sr.Get("bogus"); ok {
		t.Error("Get returned a schema that was never registered")
	}
	if len(sr.List()) != 2 {
		t.Errorf("List returned %v", sr.List())
	}
}

func TestSchemaRegistryRegister(t *testing.T) {
	ctx := cuecontext.New()
	sr := NewSchemaRegistry(ctx)

	const custom = `
#Rack: {
	name: string & !=""
	slots: int & >0
}
`
	if err := sr.Register("rack", custom, "#Rack"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	schema, ok := sr.Get("rack")
	if !ok {
		t.Fatal("registered schema not found")
	}

	good := ctx.Encode(map[string]any{"name": "r1", "slots": 42})
	if err := schema.Unify(good).Validate(cue.Concrete(true)); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}

	bad := ctx.Encode(map[string]any{"name": "r1", "slots": 0})
	if err := schema.Unify(bad).Validate(cue.Concrete(true)); err == nil {
		t.Error("invalid data accepted")
	}
}

func TestSchemaRegistryRegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry(cuecontext.New())

	if err := sr.Register("broken", "#X: {", "#X"); err == nil {
		t.Error("expected a compile error")
	}
	if err := sr.Register("missing", "#Y: {a: int}", "#Z"); err == nil {
		t.Error("expected a missing definition error")
	}
}

func TestInventorySchemaAcceptsLoaderOutput(t *testing.T) {
	ctx := cuecontext.New()
	sr := NewSchemaRegistry(ctx)
	schema, _ := sr.Get(SchemaInventory)

	data := ctx.Encode(map[string]any{
		"version": 1,
		"targets": []any{map[string]any{
			"name":         "rack1-ilo",
			"host":         "10.1.0.11",
			"user":         "Administrator",
			"password_env": "ILO_RACK1_PASSWORD",
			"proxy":        "jump@bastion.example.com:2222",
		}},
	})
	if err := schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		t.Errorf("valid inventory rejected: %v", err)
	}
}
