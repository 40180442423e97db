package policy

import (
	"time"
)

// GetBuiltinPolicies returns the guardrail policies shipped with iloctl.
// They evaluate the redacted command plan before anything is sent to a
// device.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		forcedPowerOffPolicy(),
		protectAdministratorPolicy(),
		raidDestructionPolicy(),
		insecureMediaURLPolicy(),
	}
}

// forcedPowerOffPolicy warns when a plan cuts power without an OS shutdown.
func forcedPowerOffPolicy() Policy {
	return Policy{
		Name:        "forced-power-off",
		Description: "Warns when a plan contains a hard power off, which drops the OS without shutdown",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"power", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package iloctl.policies.power

import rego.v1

deny contains violation if {
	some cmd in input.commands
	cmd == "power off hard"
	violation := {
		"message": sprintf("plan for %s forces power off without OS shutdown", [input.target]),
		"severity": "warning",
	}
}
`,
	}
}

// protectAdministratorPolicy blocks deletion of the built-in Administrator
// account. Losing it can lock the BMC until a physical reset.
func protectAdministratorPolicy() Policy {
	return Policy{
		Name:        "protect-administrator",
		Description: "Blocks plans that delete the built-in Administrator account",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"user", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package iloctl.policies.accounts

import rego.v1

deny contains violation if {
	input.domain == "user"
	some cmd in input.commands
	lower(cmd) == "delete /map1/accounts1/administrator"
	violation := {
		"message": "deleting the built-in Administrator account can lock the BMC",
		"severity": "critical",
	}
}
`,
	}
}

// raidDestructionPolicy blocks RAID volume deletion unless the caller
// opted in via the allow_destructive context flag. Deleting a volume
// discards its data.
func raidDestructionPolicy() Policy {
	return Policy{
		Name:        "raid-destruction-guard",
		Description: "Blocks RAID volume deletion unless allow_destructive is set in the evaluation context",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"raid", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package iloctl.policies.raid

import rego.v1

deny contains violation if {
	input.domain == "raid"
	some cmd in input.commands
	contains(cmd, "DELETE_LOGICAL_DRIVE")
	not allow_destructive
	violation := {
		"message": sprintf("plan for %s deletes a RAID volume; set allow_destructive to proceed", [input.target]),
		"severity": "error",
	}
}

allow_destructive if {
	input.context.metadata.allow_destructive == true
}
`,
	}
}

// insecureMediaURLPolicy blocks plaintext virtual media URLs in production.
func insecureMediaURLPolicy() Policy {
	return Policy{
		Name:        "insecure-media-url",
		Description: "Blocks http and nfs virtual media image URLs in the production environment",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"virtual_media", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package iloctl.policies.vmedia

import rego.v1

deny contains violation if {
	input.domain == "virtual_media"
	input.context.environment == "production"
	some cmd in input.commands
	startswith(cmd, "vm ")
	contains(cmd, "insert")
	insecure_url(cmd)
	violation := {
		"message": sprintf("plan for %s mounts an image over a plaintext transport in production", [input.target]),
		"severity": "error",
	}
}

insecure_url(cmd) if contains(cmd, " http://")

insecure_url(cmd) if contains(cmd, " nfs://")
`,
	}
}
