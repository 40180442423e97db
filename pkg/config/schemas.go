package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
)

// Built-in schema names.
const (
	SchemaState     = "state"
	SchemaInventory = "inventory"
)

// SchemaRegistry holds compiled CUE schemas by name. Parsed documents
// are unified against a schema before decoding, so value constraints
// like the power state enum are enforced in one place.
type SchemaRegistry struct {
	ctx     *cue.Context
	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewSchemaRegistry creates a registry bound to ctx with the built-in
// schemas registered. Schemas must share the parser's context or
// unification panics.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
	// Built-in schemas are compiled from constants; a failure here is
	// a programming error, not bad input.
	mustRegister := func(name, source, def string) {
		if err := sr.Register(name, source, def); err != nil {
			panic(fmt.Sprintf("config: built-in schema %s: %v", name, err))
		}
	}
	mustRegister(SchemaState, builtinStateSchema, "#Document")
	mustRegister(SchemaInventory, builtinInventorySchema, "#Inventory")
	return sr
}

// Register compiles source and stores the definition named def under
// name. Definitions are closed, so unknown fields in documents are
// rejected.
func (sr *SchemaRegistry) Register(name, source, def string) error {
	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	schema := val.LookupPath(cue.ParsePath(def))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("schema %s has no definition %s: %w", name, def, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = schema
	return nil
}

// Get retrieves a schema by name.
func (sr *SchemaRegistry) Get(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// List returns all registered schema names.
func (sr *SchemaRegistry) List() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// builtinStateSchema constrains desired-state documents. The enums
// mirror what the device accepts so documents fail at parse time
// rather than mid-reconcile.
const builtinStateSchema = `
#Document: {
	version: 1
	targets: [...#TargetState]
}

#TargetState: {
	target: string & !=""

	power?: {
		state?:      "on" | "off" | "reset" | "cold_boot"
		force?:      bool
		regulator?:  "dynamic" | "max" | "min" | "os"
		auto_power?: "on" | "15" | "30" | "45" | "60" | "random" | "restore" | "off"
	}

	boot?: {
		mode?:     "uefi" | "legacy" | "UEFI" | "Legacy"
		sources?: [...string & !=""]
		one_time?: "none" | "usb" | "ip" | "smartstartLX" | "netdev1"
	}

	hostname?: string & !=""

	users?: [...{
		name:             string & !=""
		password_env?:    string & !=""
		update_password?: bool
		privileges?: [...("admin" | "config" | "remote_console" | "virtual_media" | "virtual_power_and_reset")]
		absent?: bool
	}]

	virtual_media?: {
		device?:    "cdrom" | "floppy"
		image_url?: string & =~"^(https?|nfs)://"
		boot_once?: bool
		eject?:     bool
	}

	raid?: [...{
		controller:  string & !=""
		volume_name: string & !=""
		level?:      "0" | "1" | "5" | "6" | "1+0" | "50" | "60"
		drives?: [...string & !=""]
		spares?: [...string & !=""]
		size_gb?: int & >=0
		absent?:  bool
	}]
}
`

// builtinInventorySchema mirrors the Inventory struct for callers that
// want to validate inventory files without loading them.
const builtinInventorySchema = `
#Inventory: {
	version: 1
	targets: [...{
		name:               string & !=""
		host:               string & !=""
		port?:              int & >0 & <65536
		user:               string & !=""
		password_env:       string & !=""
		legacy_algorithms?: bool
		known_hosts_path?:  string
		insecure_host_key?: bool
		proxy?:             string & =~"^.+@.+$"
		proxy_password_env?: string
		command_timeout?:   string | int
		labels?: [string]: string
	}]
}
`
