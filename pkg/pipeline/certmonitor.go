package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/StrathCole/oracle-trust/pkg/certmonitor"
	"github.com/StrathCole/oracle-trust/pkg/logging"
)

// Monitor is the part of certmonitor.Monitor the job needs.
type Monitor interface {
	Run(ctx context.Context) (*certmonitor.Report, error)
}

// CertMonitorJob runs one certificate check over every provider.
type CertMonitorJob struct {
	monitor Monitor
	logger  *logging.Logger
	now     func() time.Time
}

// NewCertMonitorJob creates the job.
func NewCertMonitorJob(m Monitor, logger *logging.Logger) *CertMonitorJob {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &CertMonitorJob{monitor: m, logger: logger.With("job", "certmonitor"), now: time.Now}
}

// Run executes the check. A changed certificate is reported but is not a failure.
func (j *CertMonitorJob) Run(ctx context.Context) *JobReport {
	report := &JobReport{Job: "certmonitor", StartedAt: j.now().UTC()}

	res, err := j.monitor.Run(ctx)
	if res != nil {
		report.RunID = res.RunID
		report.Succeeded = res.Count(certmonitor.StatusValid)
		report.Changed = res.Count(certmonitor.StatusChanged)
		for _, st := range res.Statuses {
			if st.Status == certmonitor.StatusFailed {
				report.fail(fmt.Errorf("%s: %s", st.Provider, st.Error))
			}
		}
	}
	if err != nil {
		report.fail(fmt.Errorf("record run: %w", err))
	}

	report.FinishedAt = j.now().UTC()
	j.logger.Info("Certificate monitor finished",
		"valid", report.Succeeded,
		"changed", report.Changed,
		"failed", report.Failed,
	)
	return report
}
