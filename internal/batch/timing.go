package batch

import (
	"log/slog"
	"time"
)

// GroupStats holds timing statistics for one group name
type GroupStats struct {
	Group           string
	Executions      int
	Failures        int
	AverageDuration time.Duration
	MaxDuration     time.Duration
	LastDuration    time.Duration
}

// TimingTracker collects per-group durations over a run.
// It is the only state a Runner keeps between submissions.
type TimingTracker struct {
	stats map[string]*GroupStats
	order []string
}

// NewTimingTracker creates a new tracker
func NewTimingTracker() *TimingTracker {
	return &TimingTracker{
		stats: make(map[string]*GroupStats),
	}
}

// Record records one submission of group
func (tt *TimingTracker) Record(group string, duration time.Duration, err error) {
	stats, ok := tt.stats[group]
	if !ok {
		stats = &GroupStats{Group: group}
		tt.stats[group] = stats
		tt.order = append(tt.order, group)
	}

	stats.Executions++
	if err != nil {
		stats.Failures++
	}

	if stats.Executions == 1 {
		stats.AverageDuration = duration
	} else {
		total := stats.AverageDuration.Nanoseconds() * int64(stats.Executions-1)
		stats.AverageDuration = time.Duration((total + duration.Nanoseconds()) / int64(stats.Executions))
	}

	if duration > stats.MaxDuration {
		stats.MaxDuration = duration
	}
	stats.LastDuration = duration
}

// Get returns statistics for a group, or nil
func (tt *TimingTracker) Get(group string) *GroupStats {
	return tt.stats[group]
}

// All returns statistics in first-submission order
func (tt *TimingTracker) All() []GroupStats {
	out := make([]GroupStats, 0, len(tt.order))
	for _, name := range tt.order {
		out = append(out, *tt.stats[name])
	}
	return out
}

// Total returns the sum of the last duration of every group
func (tt *TimingTracker) Total() time.Duration {
	var total time.Duration
	for _, s := range tt.stats {
		total += s.LastDuration
	}
	return total
}

// LogSummary logs one line per group
func (tt *TimingTracker) LogSummary(logger *slog.Logger) {
	if len(tt.order) == 0 {
		logger.Info("no groups submitted")
		return
	}

	for _, s := range tt.All() {
		logger.Info("group timing",
			"group", s.Group,
			"executions", s.Executions,
			"failures", s.Failures,
			"last_duration_seconds", s.LastDuration.Seconds(),
			"max_duration_seconds", s.MaxDuration.Seconds())
	}
	logger.Info("total group time", "duration_seconds", tt.Total().Seconds())
}
