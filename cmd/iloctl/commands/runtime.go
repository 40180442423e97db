package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/piwi3910/iloctl/pkg/clp"
	"github.com/piwi3910/iloctl/pkg/config"
	"github.com/piwi3910/iloctl/pkg/domain"
	"github.com/piwi3910/iloctl/pkg/policy"
	"github.com/piwi3910/iloctl/pkg/reconcile"
	"github.com/piwi3910/iloctl/pkg/stores"
	"github.com/piwi3910/iloctl/pkg/telemetry"
	sshtransport "github.com/piwi3910/iloctl/pkg/transports/ssh"
)

// runtime bundles the long-lived dependencies the device commands share:
// telemetry, the policy engine, the run history store, and the inventory.
type runtime struct {
	tel    *telemetry.Telemetry
	log    zerolog.Logger
	policy *policy.Engine
	store  stores.Store

	inventory *config.Inventory
}

// defaultDBPath places the run history next to the user's other state.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "iloctl.db"
	}
	return filepath.Join(home, ".iloctl", "iloctl.db")
}

// newRuntime wires telemetry, policies, and the store from the global
// flags. The inventory is loaded lazily since history commands never
// touch a device.
func newRuntime(ctx context.Context, version string) (*runtime, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Environment = environment
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("starting metrics server: %w", err)
	}
	logger := tel.Logger.Zerolog()

	policyEngine, err := policy.NewEngine(logger, environment)
	if err != nil {
		return nil, fmt.Errorf("initializing policy engine: %w", err)
	}
	if len(policyDirs) > 0 {
		if err := policyEngine.LoadPolicies(ctx, policyDirs); err != nil {
			return nil, fmt.Errorf("loading policies: %w", err)
		}
	}
	policyEngine.SetViolationNotifier(func(target, domain, policyName, reason string) {
		_ = tel.Events.PublishPolicyViolation(target, domain, policyName, reason)
	})

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("opening run history database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrating run history database: %w", err)
	}

	return &runtime{
		tel:    tel,
		log:    logger,
		policy: policyEngine,
		store:  store,
	}, nil
}

// Close releases the store and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn().Err(err).Msg("closing run history database")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rt.tel.Shutdown(shutdownCtx); err != nil {
		rt.log.Warn().Err(err).Msg("shutting down telemetry")
	}
}

// loadInventory parses the inventory file once per invocation.
func (rt *runtime) loadInventory() (*config.Inventory, error) {
	if rt.inventory != nil {
		return rt.inventory, nil
	}
	inv, err := config.LoadInventory(inventoryPath)
	if err != nil {
		return nil, err
	}
	rt.inventory = inv
	return inv, nil
}

// target resolves the --target flag against the inventory.
func (rt *runtime) target() (*config.Target, error) {
	if targetName == "" {
		return nil, fmt.Errorf("a target is required, pass --target")
	}
	return rt.namedTarget(targetName)
}

func (rt *runtime) namedTarget(name string) (*config.Target, error) {
	inv, err := rt.loadInventory()
	if err != nil {
		return nil, err
	}
	t, ok := inv.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("target %q is not in %s", name, inventoryPath)
	}
	return t, nil
}

// connect opens the SSH session to a target. The password comes from
// the environment at this point and nowhere earlier.
func (rt *runtime) connect(ctx context.Context, t *config.Target) (*sshtransport.Client, error) {
	sshCfg, err := t.SSHConfig()
	if err != nil {
		return nil, err
	}
	client, err := sshtransport.NewClient(sshCfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	rt.tel.Metrics.SessionOpened()
	return client, nil
}

func (rt *runtime) disconnect(client *sshtransport.Client) {
	if err := client.Disconnect(); err != nil {
		rt.log.Debug().Err(err).Msg("closing ssh session")
	}
	rt.tel.Metrics.SessionClosed()
}

// reconcileOne runs the full fetch, diff, execute, verify cycle for one
// request against one target, records the run, and prints the result.
func (rt *runtime) reconcileOne(ctx context.Context, t *config.Target, req domain.Request) error {
	handler, err := domain.HandlerFor(req.Kind())
	if err != nil {
		return err
	}

	client, err := rt.connect(ctx, t)
	if err != nil {
		return reconcile.NewChannelError(fmt.Sprintf("connecting to %s", t.Name), err)
	}
	defer rt.disconnect(client)

	run := stores.NewRun(t.Name, req.Kind(), dryRun)
	run.Status = stores.RunStatusRunning
	if err := rt.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	runCtx := telemetry.WithRunContext(rt.tel.WithContext(ctx), run.ID, t.Name, string(req.Kind()))

	engine := reconcile.New(client, handler, reconcile.Options{
		CommandTimeout: t.CommandTimeout,
		Logger:         rt.log.With().Str("target", t.Name).Str("domain", string(req.Kind())).Logger(),
		Observer:       rt.tel.Metrics,
		Tracer:         rt.tel.Tracer.Trace(),
		PlanHook:       rt.policy.PlanHook(t.Name, dryRun),
		DryRun:         dryRun,
	})

	result, runErr := engine.Run(runCtx, req)
	changed := result != nil && result.Changed
	telemetry.EndRunContext(runCtx, run.ID, t.Name, string(req.Kind()), changed, runErr)

	if recErr := stores.RecordResult(ctx, rt.store, run, result, runErr); recErr != nil {
		rt.log.Warn().Err(recErr).Str("run_id", run.ID).Msg("recording run result")
	}
	rt.audit(ctx, run, runErr)

	if runErr != nil {
		rt.tel.Metrics.RecordError(string(reconcile.ClassOf(runErr)))
	}
	rt.printResult(t.Name, req.Kind(), run.ID, result, runErr)
	return runErr
}

// audit appends a trail entry for the finished run.
func (rt *runtime) audit(ctx context.Context, run *stores.Run, runErr error) {
	action := "run.completed"
	if runErr != nil {
		action = "run.failed"
	}
	if run.DryRun {
		action = "run.planned"
	}
	details, err := json.Marshal(map[string]any{
		"run_id":  run.ID,
		"domain":  run.Domain,
		"changed": run.Changed,
	})
	if err != nil {
		return
	}
	detailStr := string(details)
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     currentActor(),
		Target:    &run.Target,
		Details:   &detailStr,
		Timestamp: time.Now().UTC(),
	}
	if err := rt.store.CreateAuditEntry(ctx, entry); err != nil {
		rt.log.Debug().Err(err).Msg("writing audit entry")
	}
}

func currentActor() string {
	if u := os.Getenv("SUDO_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// printResult renders the outcome, human or JSON depending on --json.
func (rt *runtime) printResult(target string, kind domain.Kind, runID string, result *reconcile.Result, runErr error) {
	if jsonOutput {
		out := map[string]any{
			"run_id": runID,
			"target": target,
			"domain": string(kind),
		}
		if result != nil {
			out["result"] = result
		}
		if runErr != nil {
			out["error"] = runErr.Error()
			out["error_class"] = string(reconcile.ClassOf(runErr))
		}
		printJSON(out)
		return
	}

	if result == nil {
		return
	}
	if dryRun {
		if len(result.Plan) == 0 {
			fmt.Printf("%s/%s: nothing to do\n", target, kind)
			return
		}
		fmt.Printf("%s/%s plan:\n", target, kind)
		for _, line := range result.Plan {
			fmt.Printf("  %s\n", line)
		}
		return
	}
	switch {
	case runErr != nil:
		// main prints the error itself; show the phase it died in.
		fmt.Printf("%s/%s: failed during %s\n", target, kind, result.Phase)
	case result.Unverified:
		fmt.Printf("%s/%s: commands accepted, convergence pending (%s)\n", target, kind, result.Message)
	case result.Changed:
		fmt.Printf("%s/%s: converged (%d commands)\n", target, kind, len(result.Plan))
	default:
		fmt.Printf("%s/%s: already converged\n", target, kind)
	}
}

// fetchState connects and decodes the current state of one domain
// without planning any change.
func (rt *runtime) fetchState(ctx context.Context, t *config.Target, req domain.Request) (domain.State, error) {
	handler, err := domain.HandlerFor(req.Kind())
	if err != nil {
		return nil, err
	}
	client, err := rt.connect(ctx, t)
	if err != nil {
		return nil, reconcile.NewChannelError(fmt.Sprintf("connecting to %s", t.Name), err)
	}
	defer rt.disconnect(client)

	var docs []*clp.Document
	for _, cmd := range handler.FetchCommands(req) {
		stdout, exitStatus, execErr := client.Execute(ctx, cmd.Text)
		if execErr != nil {
			return nil, reconcile.NewChannelError(fmt.Sprintf("executing %s", cmd.Display()), execErr)
		}
		doc, parseErr := clp.Parse(stdout, exitStatus)
		if parseErr != nil {
			return nil, reconcile.NewMalformedResponseError(fmt.Sprintf("parsing response to %s", cmd.Display()), parseErr)
		}
		docs = append(docs, doc)
	}
	state, err := handler.Decode(docs)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// printState renders decoded state fields in key order.
func printState(target string, state domain.State) {
	fields := state.Fields()
	if jsonOutput {
		printJSON(map[string]any{
			"target": target,
			"domain": string(state.Kind()),
			"fields": fields,
		})
		return
	}
	fmt.Printf("%s/%s:\n", target, state.Kind())
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %s\n", k, fields[k])
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
	}
}

// withRuntime wraps a cobra RunE with runtime setup and teardown.
func withRuntime(fn func(ctx context.Context, rt *runtime, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cmd.Root().Version)
		if err != nil {
			return err
		}
		defer rt.Close(ctx)
		return fn(ctx, rt, cmd, args)
	}
}
