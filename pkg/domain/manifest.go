package domain

import "time"

// Manifest is the persisted builder state of one corpus.
// History is append-only and DocCount never decreases.
type Manifest struct {
	Name     string        `json:"name"`
	Source   string        `json:"source"`
	Params   BuilderParams `json:"params"`
	History  []RunRecord   `json:"history"`
	DocCount int           `json:"doc_count"`
}

// ProcessingMode names how the frontier was processed.
type ProcessingMode string

const (
	ProcessingSequential ProcessingMode = "sequential"
	ProcessingConcurrent ProcessingMode = "concurrent"
)

// RunRecord summarizes one run in the manifest history.
type RunRecord struct {
	RunID                 string         `json:"run_id"`
	RunAt                 time.Time      `json:"run_at"`
	Discovered            int            `json:"discovered"`
	Added                 int            `json:"added"`
	SkippedQuality        int            `json:"skipped_quality"`
	SkippedTextExtraction int            `json:"skipped_text_extraction"`
	SkippedDuplicate      int            `json:"skipped_duplicate"`
	Failed                int            `json:"failed"`
	DateFrom              Date           `json:"date_from"`
	DateTo                Date           `json:"date_to"`
	Keywords              []string       `json:"keywords"`
	ProcessingMode        ProcessingMode `json:"processing_mode"`
	Outcome               Outcome        `json:"outcome"`
	ConcurrentRequests    int            `json:"concurrent_requests,omitempty"`
	DownloadDelay         float64        `json:"download_delay,omitempty"`
	BatchSize             int            `json:"batch_size,omitempty"`
	Interrupted           bool           `json:"interrupted,omitempty"`
}

// AppendRun records a finished run and bumps the document count.
func (m *Manifest) AppendRun(rec RunRecord) {
	m.History = append(m.History, rec)
	if rec.Added > 0 {
		m.DocCount += rec.Added
	}
}
