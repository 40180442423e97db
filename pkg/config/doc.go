// Package config loads the two file kinds iloctl consumes: the YAML
// inventory of managed iLO targets, and desired-state documents in CUE
// or YAML describing what each target should converge to.
//
// # Inventory
//
// The inventory names each target, where to reach it, and which
// environment variable holds its password. Credentials never appear in
// files; LoadInventory validates the document and Target.SSHConfig
// resolves the password from the environment at connect time.
//
//	version: 1
//	targets:
//	  - name: rack1-ilo
//	    host: 10.1.0.11
//	    user: Administrator
//	    password_env: ILO_RACK1_PASSWORD
//	    legacy_algorithms: true
//	    labels: {rack: "1"}
//
// # Desired state
//
// A state document binds per-domain desired settings to inventory
// targets. Parser validates every document against a CUE schema, so
// enum violations like an unknown power state fail at parse time with
// file positions, then TargetState.Requests builds the typed domain
// requests the reconcile engine consumes.
//
//	version: 1
//	targets:
//	  - target: rack1-ilo
//	    hostname: rack1-ilo.mgmt.example.com
//	    power: {state: "on", regulator: "os"}
//	    boot: {mode: "uefi", one_time: "none"}
//
// # Watching
//
// Watch drives the apply loop's --watch mode: it debounces filesystem
// events on the given files and invokes the callback once per burst.
package config
