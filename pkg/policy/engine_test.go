package policy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/reconcile"
)

func testEngine(t *testing.T, env string) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, env)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t, "development")

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"forced-power-off",
		"protect-administrator",
		"raid-destruction-guard",
		"insecure-media-url",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluatePlan_ProtectAdministrator(t *testing.T) {
	eng := testEngine(t, "development")

	tests := []struct {
		name          string
		commands      []string
		expectAllowed bool
	}{
		{
			name:          "deleting another account is fine",
			commands:      []string{"delete /map1/accounts1/deploybot"},
			expectAllowed: true,
		},
		{
			name:          "deleting administrator is blocked",
			commands:      []string{"delete /map1/accounts1/Administrator"},
			expectAllowed: false,
		},
		{
			name:          "case differences do not evade the guard",
			commands:      []string{"delete /map1/accounts1/ADMINISTRATOR"},
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePlan(context.Background(), &PlanInput{
				Domain:   "user",
				Target:   "10.0.0.50",
				Commands: tt.commands,
			})
			if err != nil {
				t.Fatalf("EvaluatePlan() error = %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("Allowed = %t, want %t (violations: %v)",
					result.Allowed, tt.expectAllowed, result.Violations)
			}
		})
	}
}

func TestEvaluatePlan_RAIDDestructionGuard(t *testing.T) {
	eng := testEngine(t, "development")

	deleteCmd := `<RIBCL VERSION="2.0"><SERVER_INFO MODE="write"><DELETE_LOGICAL_DRIVE CONTROLLER="Slot 0" VOLUME_NAME="data"/></SERVER_INFO></RIBCL>`

	result, err := eng.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "raid",
		Target:   "10.0.0.50",
		Commands: []string{deleteCmd},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("expected volume deletion to be blocked without opt-in")
	}

	result, err = eng.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "raid",
		Target:   "10.0.0.50",
		Commands: []string{deleteCmd},
		Context: &Context{
			Metadata: map[string]interface{}{"allow_destructive": true},
		},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected opt-in to allow deletion, violations: %v", result.Violations)
	}
}

func TestEvaluatePlan_ForcedPowerOffWarns(t *testing.T) {
	eng := testEngine(t, "development")

	result, err := eng.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "power",
		Target:   "10.0.0.50",
		Commands: []string{"power off hard", "power on"},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}

	// A warning is raised but never blocks execution.
	if !result.Allowed {
		t.Errorf("warning-severity policy blocked the plan: %v", result.Violations)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a forced power off warning")
	}
}

func TestEvaluatePlan_InsecureMediaURL(t *testing.T) {
	insertHTTP := "vm cdrom insert http://images.example.net/tools.iso"

	prod := testEngine(t, "production")
	result, err := prod.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "virtual_media",
		Target:   "10.0.0.50",
		Commands: []string{insertHTTP},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if result.Allowed {
		t.Error("expected plaintext URL to be blocked in production")
	}

	staging := testEngine(t, "staging")
	result, err = staging.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "virtual_media",
		Target:   "10.0.0.50",
		Commands: []string{insertHTTP},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("staging plan should pass, violations: %v", result.Violations)
	}

	result, err = prod.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "virtual_media",
		Target:   "10.0.0.50",
		Commands: []string{"vm cdrom insert https://images.example.net/tools.iso"},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if !result.Allowed {
		t.Errorf("https plan should pass in production, violations: %v", result.Violations)
	}
}

func TestPlanHookVetoIsInvalidRequest(t *testing.T) {
	eng := testEngine(t, "development")

	hook := eng.PlanHook("10.0.0.50", false)
	err := hook(domain.KindUser, []domain.Command{
		{Text: "delete /map1/accounts1/Administrator"},
	})
	if err == nil {
		t.Fatal("expected the hook to veto the plan")
	}

	var rerr *reconcile.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *reconcile.Error, got %T", err)
	}
	if rerr.Class != reconcile.ClassInvalidRequest {
		t.Errorf("class = %q, want %q", rerr.Class, reconcile.ClassInvalidRequest)
	}
	if !strings.Contains(rerr.Message, "protect-administrator") {
		t.Errorf("message %q does not name the policy", rerr.Message)
	}
}

func TestPlanHookNotifiesViolations(t *testing.T) {
	eng := testEngine(t, "development")

	type notice struct {
		target, domain, policy string
	}
	var got []notice
	eng.SetViolationNotifier(func(target, domain, policyName, reason string) {
		got = append(got, notice{target, domain, policyName})
	})

	hook := eng.PlanHook("10.0.0.50", false)
	if err := hook(domain.KindUser, []domain.Command{
		{Text: "delete /map1/accounts1/Administrator"},
	}); err == nil {
		t.Fatal("expected the hook to veto the plan")
	}

	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}
	if got[0] != (notice{"10.0.0.50", "user", "protect-administrator"}) {
		t.Errorf("notification = %+v", got[0])
	}
}

func TestPlanHookAllowsCleanPlan(t *testing.T) {
	eng := testEngine(t, "development")

	hook := eng.PlanHook("10.0.0.50", false)
	if err := hook(domain.KindPower, []domain.Command{{Text: "power on"}}); err != nil {
		t.Errorf("unexpected veto: %v", err)
	}
}

func TestLoadPoliciesFromDirectory(t *testing.T) {
	eng := testEngine(t, "development")

	dir := t.TempDir()
	custom := `package custom.policies.hostname

import rego.v1

# Blocks hostname changes outside a maintenance window marker.
deny contains violation if {
	input.domain == "hostname"
	not input.context.metadata.maintenance
	violation := {
		"message": "hostname changes require a maintenance window",
		"severity": "error",
	}
}
`
	if err := writeTestFile(t, dir, "hostname-freeze.rego", custom); err != nil {
		t.Fatal(err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	if _, err := eng.GetPolicy("hostname-freeze"); err != nil {
		t.Fatalf("GetPolicy() error = %v", err)
	}

	result, err := eng.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "hostname",
		Target:   "10.0.0.50",
		Commands: []string{"set /map1/dnsendpt1 Hostname=web01"},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if result.Allowed {
		t.Error("expected the custom policy to block the plan")
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := testEngine(t, "development")

	if err := eng.DisablePolicy("protect-administrator"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}

	result, err := eng.EvaluatePlan(context.Background(), &PlanInput{
		Domain:   "user",
		Target:   "10.0.0.50",
		Commands: []string{"delete /map1/accounts1/Administrator"},
	})
	if err != nil {
		t.Fatalf("EvaluatePlan() error = %v", err)
	}
	if !result.Allowed {
		t.Error("disabled policy still blocked the plan")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestExtractPackageName(t *testing.T) {
	code := "# comment\npackage iloctl.policies.power\n\ndeny contains x if { true }"
	if got := extractPackageName(code); got != "iloctl.policies.power" {
		t.Errorf("extractPackageName() = %q", got)
	}

	if got := extractPackageName("deny contains x if { true }"); got != "iloctl.policies" {
		t.Errorf("extractPackageName() fallback = %q", got)
	}
}
