package orchestrator

import (
	"fmt"
	"time"
)

// Report は実験結果をフォーマットして返す
func (r *Result) Report() string {
	report := fmt.Sprintf(`
================================================================================
                        EXPERIMENT REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Experiment ID:  %s
  Status:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v

FAULT STATISTICS
----------------
  Total Faults:     %d
  Successful:       %d
  Failed:           %d
  Skipped:          %d

SAFETY
------
  Safety Triggered:   %v
  Rollback Performed: %v

SYSTEM METRICS
--------------
  Error Rate:       %.2f%%
  Success Rate:     %.2f%%
  P99 Latency:      %v
  Goroutines:       %d
  Heap Alloc:       %.1f MB
`,
		r.Name,
		r.ExperimentID,
		r.Status,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.TotalFaults,
		r.SuccessfulFaults,
		r.FailedFaults,
		r.SkippedFaults,
		r.SafetyTriggered,
		r.RollbackPerformed,
		r.Metrics.ErrorRate*100,
		r.Metrics.SuccessRate*100,
		r.Metrics.LatencyP99.Round(time.Microsecond),
		r.Metrics.Current.Goroutines,
		r.Metrics.Current.HeapAllocMB,
	)

	if len(r.FaultResults) > 0 {
		report += "\nFAULT RESULTS\n-------------\n"
		for _, fr := range r.FaultResults {
			line := fmt.Sprintf("  %-24s %-18s %s", fr.Fault, fr.Type, fr.Status)
			if fr.Reason != "" {
				line += fmt.Sprintf(" (%s)", fr.Reason)
			}
			if fr.Error != "" {
				line += fmt.Sprintf(" error: %s", fr.Error)
			}
			report += line + "\n"
		}
	}

	if len(r.SafetyReasons) > 0 {
		report += "\nSAFETY REASONS\n--------------\n"
		for _, reason := range r.SafetyReasons {
			report += fmt.Sprintf("  - %s\n", reason)
		}
	}

	if len(r.Errors) > 0 {
		report += "\nERRORS\n------\n"
		for _, e := range r.Errors {
			report += fmt.Sprintf("  - %s\n", e)
		}
	}

	report += "\n================================================================================"

	return report
}
