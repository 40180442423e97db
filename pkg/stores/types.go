package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piwi3910/iloctl/pkg/domain"
)

// RunStatus is the lifecycle state of a reconciliation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded reconciliation of one domain on one target.
type Run struct {
	ID     string    `json:"id"`
	Target string    `json:"target"`
	Domain string    `json:"domain"`
	Status RunStatus `json:"status"`

	// DryRun marks plan-only runs; they never mutate the device.
	DryRun bool `json:"dry_run"`

	// Changed reports whether any mutating command took effect.
	Changed bool `json:"changed"`

	// Unverified is set when execution succeeded but the final state
	// is a deferred effect rather than the requested one.
	Unverified bool `json:"unverified"`

	// ErrorClass is the classified failure, when Status is failed.
	ErrorClass *string `json:"error_class,omitempty"`
	Error      *string `json:"error,omitempty"`

	// Plan is the redacted command plan as a JSON array.
	Plan string `json:"plan"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun allocates a pending run record.
func NewRun(target string, kind domain.Kind, dryRun bool) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Target:    target,
		Domain:    string(kind),
		Status:    RunStatusPending,
		DryRun:    dryRun,
		Plan:      "[]",
		StartedAt: time.Now().UTC(),
	}
}

// SetPlan stores the redacted plan lines.
func (r *Run) SetPlan(plan []string) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	r.Plan = string(data)
	return nil
}

// PlanLines decodes the stored plan.
func (r *Run) PlanLines() ([]string, error) {
	var lines []string
	if err := json.Unmarshal([]byte(r.Plan), &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// TranscriptEntry is one command/response exchange of a run, stored in
// send order. Command and Output hold the redacted forms only.
type TranscriptEntry struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Seq        int       `json:"seq"`
	Command    string    `json:"command"`
	Output     string    `json:"output"`
	ExitStatus int       `json:"exit_status"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is the last decoded state of one domain on one target, kept
// for drift detection between runs.
type Snapshot struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Domain    string    `json:"domain"`
	Fields    string    `json:"fields"` // JSON object
	Hash      string    `json:"hash"`   // SHA256 over sorted fields
	LastRunID string    `json:"last_run_id"`
	TakenAt   time.Time `json:"taken_at"`
}

// SnapshotFromState renders a decoded domain state as a snapshot row.
func SnapshotFromState(target, runID string, state domain.State) (*Snapshot, error) {
	fields := state.Fields()
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:        uuid.New().String(),
		Target:    target,
		Domain:    string(state.Kind()),
		Fields:    string(data),
		Hash:      hashFields(fields),
		LastRunID: runID,
		TakenAt:   time.Now().UTC(),
	}, nil
}

// hashFields digests the field map in key order so equal states hash
// equal regardless of map iteration.
func hashFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FieldMap decodes the stored fields.
func (s *Snapshot) FieldMap() (map[string]string, error) {
	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(s.Fields), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// AuditEntry is one audit trail record.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "run.started", "run.completed", "plan.vetoed"
	Actor     string    `json:"actor"`
	Target    *string   `json:"target,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Target string
	Domain string
	Status RunStatus
}

func (f RunFilter) normalized() RunFilter {
	f.Target = strings.TrimSpace(f.Target)
	f.Domain = strings.TrimSpace(f.Domain)
	return f
}

// Store is the persistence layer for run history, transcripts, state
// snapshots, and the audit trail.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)

	// Transcript operations
	AppendTranscript(ctx context.Context, entries []*TranscriptEntry) error
	GetTranscript(ctx context.Context, runID string) ([]*TranscriptEntry, error)

	// Snapshot operations
	UpsertSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, target, domain string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, target string) ([]*Snapshot, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
