package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/reconcile"
)

// Engine evaluates Rego policies against reconciliation plans before any
// command reaches a device.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	env      string
	notify   ViolationNotifier
}

// ViolationNotifier is called for each blocking violation a plan hook
// finds, before the veto error is returned.
type ViolationNotifier func(target, domain, policyName, reason string)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in guardrails
// preloaded.
func NewEngine(logger zerolog.Logger, environment string) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		env:      environment,
	}

	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := e.compileAndStorePolicy(&p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("built-in policies loaded")

	return e, nil
}

// EvaluatePlan evaluates all enabled policies against a plan.
func (e *Engine) EvaluatePlan(ctx context.Context, input *PlanInput) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if input.Context == nil {
		input.Context = &Context{}
	}
	if input.Context.Timestamp.IsZero() {
		input.Context.Timestamp = time.Now()
	}
	if input.Context.Environment == "" {
		input.Context.Environment = e.env
	}

	var violations []Violation
	var warnings []Violation
	evaluated := make([]string, 0, len(e.policies))

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		evaluated = append(evaluated, cp.policy.Name)

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("target", input.Target).
				Msg("policy evaluation failed")
			// A broken policy must not silently wave a plan through.
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}

		for _, v := range found {
			if v.Severity == SeverityError || v.Severity == SeverityCritical {
				violations = append(violations, v)
			} else {
				warnings = append(warnings, v)
			}
		}
	}

	result := &Result{
		Allowed:           len(violations) == 0,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluated,
		Duration:          time.Since(startTime),
	}

	e.logger.Debug().
		Str("domain", input.Domain).
		Str("target", input.Target).
		Int("commands", len(input.Commands)).
		Int("violations", len(violations)).
		Int("warnings", len(warnings)).
		Dur("duration", result.Duration).
		Msg("plan policy evaluation completed")

	return result, nil
}

// PlanHook returns a reconcile.PlanHook bound to one target. A denied
// plan surfaces as an invalid request so the run fails before any command
// is sent.
func (e *Engine) PlanHook(target string, dryRun bool) reconcile.PlanHook {
	return func(kind domain.Kind, plan []domain.Command) error {
		commands := make([]string, 0, len(plan))
		for _, cmd := range plan {
			commands = append(commands, cmd.Display())
		}

		result, err := e.EvaluatePlan(context.Background(), &PlanInput{
			Domain:   string(kind),
			Target:   target,
			Commands: commands,
			Context: &Context{
				Timestamp: time.Now(),
				DryRun:    dryRun,
			},
		})
		if err != nil {
			return reconcile.NewInvalidRequestError("policy evaluation failed", err)
		}

		for _, w := range result.Warnings {
			e.logger.Warn().
				Str("policy", w.Policy).
				Str("target", target).
				Msg(w.Message)
		}

		if !result.Allowed {
			if e.notify != nil {
				for _, v := range result.Violations {
					e.notify(target, string(kind), v.Policy, v.Message)
				}
			}
			v := result.Violations[0]
			return reconcile.NewInvalidRequestError(
				fmt.Sprintf("plan rejected by policy %s: %s", v.Policy, v.Message), nil)
		}
		return nil
	}
}

// SetViolationNotifier registers a callback for blocking violations,
// typically the telemetry event publisher.
func (e *Engine) SetViolationNotifier(fn ViolationNotifier) {
	e.notify = fn
}

// LoadPolicies loads policy files from the given paths and compiles them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(&policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("policies loaded")

	return nil
}

// ReplacePolicies swaps the loaded policy set, keeping built-ins. Used by
// the file watcher on reload.
func (e *Engine) ReplacePolicies(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*compiledPolicy)
	e.policies, fresh = fresh, e.policies

	for _, p := range GetBuiltinPolicies() {
		p := p
		if err := e.compileAndStorePolicy(&p); err != nil {
			e.policies = fresh
			return fmt.Errorf("failed to recompile built-in policy %s: %w", p.Name, err)
		}
	}
	for i := range policies {
		if err := e.compileAndStorePolicy(&policies[i]); err != nil {
			e.policies = fresh
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// evaluatePolicy evaluates a single compiled policy against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PlanInput) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation

	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	lines := strings.Split(code, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "iloctl.policies"
}

// createViolation creates a Violation from a raw Rego deny result.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *PlanInput) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Target:     input.Target,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold the
// write lock.
func (e *Engine) compileAndStorePolicy(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("policy compiled")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("policy disabled")

	return nil
}
