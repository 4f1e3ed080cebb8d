// Package metrics exposes Prometheus counters and histograms for an import
// run: rows read, pages written, task outcomes, and per-task duration. The
// CLI's --enable-metrics flag starts an HTTP endpoint serving these; there
// is no push gateway and no remote write, consistent with this being a
// single-binary batch pipeline rather than a long-lived service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsRead counts rows decoded by the slice processor, labeled by the
	// pass that read them ("pass1" or "pass2").
	RowsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colpage_rows_read_total",
			Help: "Total rows decoded from source records",
		},
		[]string{"outcome"},
	)

	// PagesWritten counts page files written, labeled by the PageType
	// written (UNICODE/INT64/FLOAT64/BOOL/OBJECT).
	PagesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colpage_pages_written_total",
			Help: "Total page files written",
		},
		[]string{"page_type"},
	)

	// TasksCompleted counts Task executions, labeled success or failed.
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colpage_tasks_completed_total",
			Help: "Total tasks completed, by outcome",
		},
		[]string{"outcome"},
	)

	// TaskDuration observes wall-clock time for one Task's full two-pass
	// execution (§4.F).
	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "colpage_task_duration_seconds",
			Help: "Task execution duration in seconds",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300,
			},
		},
	)
)

// Timer measures an operation's elapsed wall-clock time.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveTaskDuration stops the timer and records the elapsed time into
// TaskDuration.
func (t *Timer) ObserveTaskDuration() time.Duration {
	elapsed := time.Since(t.start)
	TaskDuration.Observe(elapsed.Seconds())
	return elapsed
}
