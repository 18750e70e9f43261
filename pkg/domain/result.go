package domain

// Outcome is the terminal state of a run's batch orchestration.
type Outcome string

const (
	OutcomeCompleted            Outcome = "completed"
	OutcomeFellBackToSequential Outcome = "fell_back_to_sequential"
)

// FailedItem is a per-item failure kept in the run result.
type FailedItem struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// RunResult summarizes one run. A run returns a RunResult even when items fail.
type RunResult struct {
	Discovered            int          `json:"discovered"`
	Added                 int          `json:"added"`
	SkippedQuality        int          `json:"skipped_quality"`
	SkippedTextExtraction int          `json:"skipped_text_extraction"`
	SkippedDuplicate      int          `json:"skipped_duplicate"`
	Failed                int          `json:"failed"`
	FailedDetails         []FailedItem `json:"failed_details"`
	TotalDocs             int          `json:"total_docs"`
	Outcome               Outcome      `json:"outcome"`
}

// RecordFailure counts a failed item.
func (r *RunResult) RecordFailure(url string, err error) {
	r.Failed++
	r.FailedDetails = append(r.FailedDetails, FailedItem{URL: url, Error: err.Error()})
}
