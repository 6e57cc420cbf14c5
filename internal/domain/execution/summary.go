package execution

import "math"

// RunSummary aggregates the verdicts of one run.
type RunSummary struct {
	Passed int
	Total  int
	Score  int
}

// Summarize counts passing results and derives the percentage score.
//
// The score rounds half up, so 1 of 8 passing cases scores 13. An empty
// result set yields a zero summary.
func Summarize(results []TestResult) RunSummary {
	summary := RunSummary{Total: len(results)}
	for _, result := range results {
		if result.Status == StatusPass {
			summary.Passed++
		}
	}
	summary.Score = Score(summary.Passed, summary.Total)
	return summary
}

// Score returns round(passed/total*100), or 0 when total is not positive.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(passed)/float64(total)*100 + 0.5))
}
