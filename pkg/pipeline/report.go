// Package pipeline runs the batch jobs: the certificate monitor and the
// aggregate, publish and submit cycle.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrBudgetExhausted marks a step skipped because the job budget ran out.
var ErrBudgetExhausted = errors.New("budget exhausted")

// JobReport summarizes one job run.
type JobReport struct {
	Job        string    `json:"job"`
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Succeeded  int       `json:"succeeded"`
	Changed    int       `json:"changed"`
	Failed     int       `json:"failed"`
	Skipped    []string  `json:"skipped,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`

	ContentID  string `json:"contentId,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	Status     string `json:"status,omitempty"`
	TxRef      string `json:"txRef,omitempty"`
}

// ExitCode is 0 when every step ran and succeeded and 1 otherwise. Steps skipped for
// budget count as failures.
func (r *JobReport) ExitCode() int {
	if r.Failed > 0 {
		return 1
	}
	return 0
}

func (r *JobReport) fail(err error) {
	r.Failed++
	r.Errors = append(r.Errors, err.Error())
}

// skip records steps that were never started because the budget ran out.
func (r *JobReport) skip(steps ...string) {
	for _, s := range steps {
		r.Skipped = append(r.Skipped, s)
		r.fail(fmt.Errorf("%s: %w", s, ErrBudgetExhausted))
	}
}
