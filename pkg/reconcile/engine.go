package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/piwi3910/iloctl/pkg/clp"
	"github.com/piwi3910/iloctl/pkg/domain"
)

// Transport executes one command on the device session and returns its
// raw output. One command is in flight at a time per session.
type Transport interface {
	Execute(ctx context.Context, command string) (stdout string, exitStatus int, err error)
}

// Phase is the engine's position in its state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseFetching  Phase = "fetching_current"
	PhaseDiffing   Phase = "diffing"
	PhaseExecuting Phase = "executing"
	PhaseVerifying Phase = "verifying"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Exchange is one command/response pair of the session transcript.
// Command holds the redacted form; secrets never enter the transcript.
type Exchange struct {
	Command    string        `json:"command"`
	Output     string        `json:"output"`
	ExitStatus int           `json:"exit_status"`
	Duration   time.Duration `json:"duration"`
}

// Result is the outcome of one reconciliation.
type Result struct {
	Phase Phase `json:"phase"`

	// Changed reports whether any mutating command took effect.
	Changed bool `json:"changed"`

	// Unverified is set when commands succeeded but the final state is
	// a documented deferred effect rather than the requested one.
	Unverified bool `json:"unverified"`

	// Current is the state decoded before any change.
	Current domain.State `json:"-"`

	// Final is the state decoded after execution, when verification
	// ran.
	Final domain.State `json:"-"`

	// Plan is the redacted command plan.
	Plan []string `json:"plan"`

	Transcript []Exchange `json:"transcript"`

	Message string `json:"message,omitempty"`
}

// Observer receives engine events, typically a metrics sink.
type Observer interface {
	CommandExecuted(kind domain.Kind, phase Phase, duration time.Duration, err error)
	ReconcileCompleted(kind domain.Kind, result Phase, changed bool, duration time.Duration)
}

// PlanHook inspects the plan before anything is sent. Returning an error
// vetoes execution.
type PlanHook func(kind domain.Kind, plan []domain.Command) error

// Options tune one engine instance.
type Options struct {
	// CommandTimeout bounds each command round trip. Zero means no
	// per-command bound beyond the caller's context.
	CommandTimeout time.Duration

	Logger zerolog.Logger

	Observer Observer

	Tracer trace.Tracer

	// PlanHook runs between diffing and execution.
	PlanHook PlanHook

	// DryRun computes and reports the plan without executing it.
	DryRun bool
}

// Engine reconciles one domain on one device session. An instance serves
// exactly one Run call.
type Engine struct {
	transport Transport
	handler   domain.Handler
	opts      Options

	mu         sync.Mutex
	used       bool
	phase      Phase
	transcript []Exchange
}

// New creates an engine for one reconciliation.
func New(transport Transport, handler domain.Handler, opts Options) *Engine {
	return &Engine{
		transport: transport,
		handler:   handler,
		opts:      opts,
		phase:     PhaseIdle,
	}
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	e.opts.Logger.Debug().Str("phase", string(p)).Msg("engine phase")
}

// Run drives the reconciliation to completion. The returned Result is
// populated as far as the run progressed even when err is non-nil; err,
// when set, is always a classified *Error.
func (e *Engine) Run(ctx context.Context, req domain.Request) (*Result, error) {
	e.mu.Lock()
	if e.used {
		e.mu.Unlock()
		return nil, NewInvalidRequestError("engine instance already used", nil)
	}
	e.used = true
	e.mu.Unlock()

	started := time.Now()
	result := &Result{Phase: PhaseIdle}
	err := e.run(ctx, req, result)
	result.Transcript = e.transcript
	if err != nil {
		e.setPhase(PhaseFailed)
		result.Phase = PhaseFailed
		classified := Classify(err)
		result.Message = classified.Message
		e.observe(result, started)
		return result, classified
	}
	result.Phase = PhaseDone
	e.observe(result, started)
	return result, nil
}

func (e *Engine) observe(result *Result, started time.Time) {
	if e.opts.Observer != nil {
		e.opts.Observer.ReconcileCompleted(e.handler.Kind(), result.Phase, result.Changed, time.Since(started))
	}
}

func (e *Engine) run(ctx context.Context, req domain.Request, result *Result) error {
	if req.Kind() != e.handler.Kind() {
		return NewInvalidRequestError(
			fmt.Sprintf("request kind %s does not match handler %s", req.Kind(), e.handler.Kind()), nil)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	e.setPhase(PhaseFetching)
	current, err := e.fetchState(ctx, req)
	if err != nil {
		return err
	}
	result.Current = current

	e.setPhase(PhaseDiffing)
	plan, err := e.handler.Plan(current, req)
	if err != nil {
		return err
	}
	for _, cmd := range plan {
		result.Plan = append(result.Plan, cmd.Display())
	}

	if e.opts.PlanHook != nil {
		if err := e.opts.PlanHook(e.handler.Kind(), plan); err != nil {
			return err
		}
	}

	if len(plan) == 0 {
		e.setPhase(PhaseDone)
		result.Final = current
		result.Message = "already converged"
		return nil
	}

	if e.opts.DryRun {
		e.setPhase(PhaseDone)
		result.Final = current
		result.Changed = true
		result.Unverified = true
		result.Message = "dry run, no commands executed"
		return nil
	}

	e.setPhase(PhaseExecuting)
	ctx, span := e.startSpan(ctx, "reconcile.execute")
	for i, cmd := range plan {
		e.opts.Logger.Info().
			Str("domain", string(e.handler.Kind())).
			Int("step", i+1).
			Int("of", len(plan)).
			Str("command", cmd.Display()).
			Msg("executing")
		_, err := e.execute(ctx, cmd, PhaseExecuting)
		if errors.Is(err, domain.ErrAlreadySatisfied) {
			e.opts.Logger.Debug().Str("command", cmd.Display()).Msg("already satisfied")
			continue
		}
		if err != nil {
			endSpan(span)
			return err
		}
		result.Changed = true
	}
	endSpan(span)

	e.setPhase(PhaseVerifying)
	final, err := e.fetchState(ctx, req)
	if err != nil {
		return err
	}
	result.Final = final

	verdict, detail := e.handler.Verify(final, req)
	switch verdict {
	case domain.VerifyConverged:
		result.Message = "converged"
		return nil
	case domain.VerifyPending:
		result.Unverified = true
		result.Message = detail
		return nil
	default:
		return NewPreconditionError("verification failed: "+detail, nil)
	}
}

// fetchState runs the handler's read commands and decodes the state.
func (e *Engine) fetchState(ctx context.Context, req domain.Request) (domain.State, error) {
	ctx, span := e.startSpan(ctx, "reconcile.fetch")
	defer endSpan(span)

	cmds := e.handler.FetchCommands(req)
	docs := make([]*clp.Document, 0, len(cmds))
	for _, cmd := range cmds {
		doc, err := e.execute(ctx, cmd, PhaseFetching)
		if err != nil && !errors.Is(err, domain.ErrAlreadySatisfied) {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return e.handler.Decode(docs)
}

// execute sends one command, records the exchange, parses the output,
// and applies the command's success check.
func (e *Engine) execute(ctx context.Context, cmd domain.Command, phase Phase) (*clp.Document, error) {
	if e.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.CommandTimeout)
		defer cancel()
	}

	started := time.Now()
	stdout, exitStatus, err := e.transport.Execute(ctx, cmd.Text)
	duration := time.Since(started)

	e.transcript = append(e.transcript, Exchange{
		Command:    cmd.Display(),
		Output:     stdout,
		ExitStatus: exitStatus,
		Duration:   duration,
	})
	if e.opts.Observer != nil {
		e.opts.Observer.CommandExecuted(e.handler.Kind(), phase, duration, err)
	}

	if err != nil {
		return nil, Classify(err).WithCommand(cmd.Display())
	}

	doc, err := clp.Parse(stdout, exitStatus)
	if err != nil {
		return nil, Classify(err).WithCommand(cmd.Display()).WithRaw(stdout)
	}

	if cmd.Check != nil {
		if err := cmd.Check(doc); err != nil {
			if errors.Is(err, domain.ErrAlreadySatisfied) {
				return doc, domain.ErrAlreadySatisfied
			}
			classified := classifyDeviceText(cmd.Display(), stdout)
			classified.Err = err
			return nil, classified
		}
	}
	// A Check that found nothing to say does not exempt the command
	// from the status check; a nonzero status must keep its class.
	return doc, defaultCheck(doc, cmd.Display(), stdout)
}

// defaultCheck fails on a nonzero status header or, absent one, a
// nonzero exit status.
func defaultCheck(doc *clp.Document, command, stdout string) error {
	resp := doc.Response
	if resp.StatusPresent {
		if resp.StatusCode != 0 {
			return classifyDeviceText(command, stdout)
		}
		return nil
	}
	if resp.ExitStatus != 0 {
		return classifyDeviceText(command, stdout)
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if e.opts.Tracer == nil {
		return ctx, nil
	}
	return e.opts.Tracer.Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
