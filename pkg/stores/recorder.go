package stores

import (
	"context"
	"time"

	"github.com/piwi3910/iloctl/pkg/reconcile"
)

// RecordResult writes the outcome of one reconciliation: the finished
// run row, its transcript, and a refreshed state snapshot when a final
// state was decoded. The run must already exist via CreateRun.
func RecordResult(ctx context.Context, store Store, run *Run, result *reconcile.Result, runErr error) error {
	if runErr != nil {
		run.Status = RunStatusFailed
		class := string(reconcile.ClassOf(runErr))
		msg := runErr.Error()
		run.ErrorClass = &class
		run.Error = &msg
	} else {
		run.Status = RunStatusCompleted
	}

	if result != nil {
		run.Changed = result.Changed
		run.Unverified = result.Unverified
		if err := run.SetPlan(result.Plan); err != nil {
			return err
		}
	}

	if err := store.FinishRun(ctx, run); err != nil {
		return err
	}

	if result != nil && len(result.Transcript) > 0 {
		entries := make([]*TranscriptEntry, 0, len(result.Transcript))
		for i, ex := range result.Transcript {
			entries = append(entries, &TranscriptEntry{
				RunID:      run.ID,
				Seq:        i,
				Command:    ex.Command,
				Output:     ex.Output,
				ExitStatus: ex.ExitStatus,
				DurationMS: ex.Duration.Milliseconds(),
				Timestamp:  time.Now().UTC(),
			})
		}
		if err := store.AppendTranscript(ctx, entries); err != nil {
			return err
		}
	}

	// Prefer the verified final state; fall back to the pre-change
	// snapshot, which is still the freshest view we decoded.
	if result == nil {
		return nil
	}
	state := result.Final
	if state == nil {
		state = result.Current
	}
	if state != nil {
		snap, err := SnapshotFromState(run.Target, run.ID, state)
		if err != nil {
			return err
		}
		if err := store.UpsertSnapshot(ctx, snap); err != nil {
			return err
		}
	}

	return nil
}
