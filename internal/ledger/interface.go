package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// Run statuses
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	// StatusCompletedWithErrors means every group ran but some were rejected
	// or some drains timed out
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
	StatusCancelled           = "cancelled"
)

// Group statuses
const (
	GroupSucceeded   = "succeeded"
	GroupRejected    = "rejected"
	GroupUnavailable = "unavailable"
	GroupPartial     = "partial"
	GroupSkipped     = "skipped"
)

// Run is one execution of a plan
type Run struct {
	ID          string     `db:"id"`
	Plan        string     `db:"plan"`
	Fingerprint string     `db:"fingerprint"`
	StoreURI    string     `db:"store_uri"`
	Status      string     `db:"status"`
	DryRun      bool       `db:"dry_run"`
	Error       string     `db:"error"`
	StartedAt   time.Time  `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`
}

// Duration returns the run's wall clock, or zero while it is still running
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// GroupRecord is the outcome of one group within a run
type GroupRecord struct {
	ID         int64     `db:"id"`
	RunID      string    `db:"run_id"`
	Position   int       `db:"position"`
	Name       string    `db:"name"`
	Operations int       `db:"operations"`
	Applied    int       `db:"applied"`
	Rejected   int       `db:"rejected"`
	Chunks     int       `db:"chunks"`
	Attempts   int       `db:"attempts"`
	DurationMS int64     `db:"duration_ms"`
	Status     string    `db:"status"`
	Error      string    `db:"error"`
	FinishedAt time.Time `db:"finished_at"`
}

// DrainRecord is the outcome of one drain cycle within a run
type DrainRecord struct {
	ID               int64     `db:"id"`
	RunID            string    `db:"run_id"`
	AfterGroup       string    `db:"after_group"` // empty for the final drain
	Query            string    `db:"query"`
	Outcome          string    `db:"outcome"`
	Attempts         int       `db:"attempts"`
	ElapsedMS        int64     `db:"elapsed_ms"`
	LastCount        int       `db:"last_count"`
	ConnectionErrors int       `db:"connection_errors"`
	RejectedErrors   int       `db:"rejected_errors"`
	FinishedAt       time.Time `db:"finished_at"`
}

// Rejection is one statement the store refused during a group. Rejected
// statements are kept so they can be fixed and resubmitted by hand.
type Rejection struct {
	ID         int64     `db:"id"`
	RunID      string    `db:"run_id"`
	Group      string    `db:"group_name"`
	Statement  string    `db:"statement"`
	Error      string    `db:"error"`
	RecordedAt time.Time `db:"recorded_at"`
}

// Ledger records run history
type Ledger interface {
	StartRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
	RecordGroup(ctx context.Context, rec *GroupRecord) error
	RecordDrain(ctx context.Context, rec *DrainRecord) error
	RecordRejections(ctx context.Context, recs []Rejection) error

	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Groups(ctx context.Context, runID string) ([]GroupRecord, error)
	Drains(ctx context.Context, runID string) ([]DrainRecord, error)
	// Rejections returns a run's rejected statements, or the most recent ones
	// across all runs when runID is empty
	Rejections(ctx context.Context, runID string, limit int) ([]Rejection, error)

	Close() error
}
