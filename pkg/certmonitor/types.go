package certmonitor

import "time"

// Status is the outcome of one provider check.
type Status string

const (
	// StatusValid means the live fingerprint is pinned.
	StatusValid Status = "valid"
	// StatusChanged means a new fingerprint was seen and recorded.
	StatusChanged Status = "changed"
	// StatusFailed means the check could not complete.
	StatusFailed Status = "failed"
)

// CertStatus is the result for one provider.
type CertStatus struct {
	Provider            string    `json:"provider"`
	Status              Status    `json:"status"`
	Fingerprint         string    `json:"fingerprint,omitempty"`
	PreviousFingerprint string    `json:"previousFingerprint,omitempty"`
	NotAfter            time.Time `json:"notAfter,omitempty"`
	DaysLeft            int       `json:"daysLeft"`
	Error               string    `json:"error,omitempty"`
	CheckedAt           time.Time `json:"checkedAt"`
}

// Report is the batch record of one monitor run.
type Report struct {
	RunID      string       `json:"runId"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Statuses   []CertStatus `json:"statuses"`
}

// Count returns how many providers ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, st := range r.Statuses {
		if st.Status == s {
			n++
		}
	}
	return n
}

// HistoryEntry is one audited fingerprint change.
type HistoryEntry struct {
	ID             string    `json:"id"`
	RunID          string    `json:"runId"`
	Provider       string    `json:"provider"`
	OldFingerprint string    `json:"oldFingerprint,omitempty"`
	NewFingerprint string    `json:"newFingerprint"`
	NotAfter       time.Time `json:"notAfter"`
	DetectedAt     time.Time `json:"detectedAt"`
}
