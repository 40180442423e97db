// Package policy provides Open Policy Agent (OPA) integration for iloctl.
//
// This package implements plan-level guardrails using the Rego policy
// language. Every reconciliation plan is evaluated before any command is
// sent to a device; a denied plan never reaches the wire. Policies see
// only the redacted command form.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies against plans
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Guardrails shipped with iloctl
//
// # Usage
//
// Creating a policy engine and wiring it into the reconcile engine:
//
//	logger := zerolog.New(os.Stderr)
//	pol, err := policy.NewEngine(logger, "production")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng := reconcile.New(transport, handler, reconcile.Options{
//	    PlanHook: pol.PlanHook("10.0.0.50", false),
//	})
//
// Loading custom policies:
//
//	err = pol.LoadPolicies(ctx, []string{"/etc/iloctl/policies"})
//
// # Built-in Policies
//
// The following guardrails are included by default:
//
//  1. forced-power-off - Warns when a plan cuts power without OS shutdown
//  2. protect-administrator - Blocks deleting the built-in Administrator account
//  3. raid-destruction-guard - Blocks RAID volume deletion without an explicit opt-in
//  4. insecure-media-url - Blocks plaintext media transports in production
//
// # Custom Policies
//
// Custom policies are written in Rego against the plan input document:
//
//	package custom.policies.power
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.domain == "power"
//	    input.context.environment == "production"
//	    some cmd in input.commands
//	    cmd == "power off"
//	    violation := {
//	        "message": "production servers may not be powered off via iloctl",
//	        "severity": "error",
//	    }
//	}
//
// The input document has the shape:
//
//	{
//	    "domain":   "power",
//	    "target":   "10.0.0.50",
//	    "commands": ["power off"],
//	    "context":  {"environment": "production", "dry_run": false}
//	}
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: Informational messages
//   - warning: Logged, does not block execution
//   - error: Blocks the plan
//   - critical: Blocks the plan
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, pol.ReplacePolicies)
package policy
