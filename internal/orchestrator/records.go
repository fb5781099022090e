package orchestrator

import (
	"time"

	"github.com/vfbgraph/graphmaint/internal/batch"
	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
	"github.com/vfbgraph/graphmaint/internal/ledger"
	"github.com/vfbgraph/graphmaint/internal/plan"
	"github.com/vfbgraph/graphmaint/internal/poller"
)

// groupStatus maps a runner error to the ledger's group status
func groupStatus(err error) string {
	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeStatement:
		return ledger.GroupRejected
	case apperrors.ErrorTypePartial:
		return ledger.GroupPartial
	case apperrors.ErrorTypeConnection:
		return ledger.GroupUnavailable
	}
	if err != nil {
		return ledger.GroupUnavailable
	}
	return ledger.GroupSucceeded
}

func groupRecord(runID string, position int, step plan.Step, res batch.ExecutionResult, finished time.Time) *ledger.GroupRecord {
	rec := &ledger.GroupRecord{
		RunID:      runID,
		Position:   position + 1,
		Name:       step.Group.Name(),
		Operations: step.Group.Len(),
		Applied:    res.Applied(),
		Rejected:   len(res.Rejected()),
		Chunks:     res.Chunks,
		Attempts:   res.Attempts,
		DurationMS: res.Elapsed.Milliseconds(),
		Status:     groupStatus(res.Err),
		FinishedAt: finished,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}

func drainRecord(runID, afterGroup string, report poller.Report, finished time.Time) *ledger.DrainRecord {
	return &ledger.DrainRecord{
		RunID:            runID,
		AfterGroup:       afterGroup,
		Query:            report.Query,
		Outcome:          report.Outcome.String(),
		Attempts:         report.Attempts,
		ElapsedMS:        report.Elapsed.Milliseconds(),
		LastCount:        report.LastCount,
		ConnectionErrors: report.ConnectionErrors,
		RejectedErrors:   report.RejectedErrors,
		FinishedAt:       finished,
	}
}

// rejections lists the statements the store refused in res
func rejections(runID, group string, res batch.ExecutionResult, recorded time.Time) []ledger.Rejection {
	var recs []ledger.Rejection
	for _, r := range res.Rejected() {
		recs = append(recs, ledger.Rejection{
			RunID:      runID,
			Group:      group,
			Statement:  r.Statement,
			Error:      r.Err.Error(),
			RecordedAt: recorded,
		})
	}
	return recs
}
