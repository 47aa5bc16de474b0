// Package alerts delivers operator notifications for certificate rotations and other trust events.
package alerts

import (
	"context"
	"time"

	"github.com/StrathCole/oracle-trust/pkg/logging"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a single notification.
type Alert struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"` // e.g. "cert_rotation"
	Severity string            `json:"severity"`
	Subject  string            `json:"subject"` // provider or component the alert is about
	Message  string            `json:"message"`
	Details  map[string]string `json:"details,omitempty"`
	FiredAt  time.Time         `json:"fired_at"`
}

// Alerter delivers alerts. Implementations log delivery failures and return them,
// callers never treat them as fatal.
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the log.
type LogAlerter struct {
	logger *logging.Logger
}

// NewLogAlerter returns an alerter that logs at warn level.
func NewLogAlerter(logger *logging.Logger) *LogAlerter {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &LogAlerter{logger: logger}
}

// Send logs a.
func (l *LogAlerter) Send(_ context.Context, a Alert) error {
	fields := []interface{}{"kind", a.Kind, "severity", a.Severity, "subject", a.Subject}
	for k, v := range a.Details {
		fields = append(fields, k, v)
	}
	l.logger.Warn(a.Message, fields...)
	return nil
}

// Multi fans an alert out to several alerters and returns the first error.
type Multi []Alerter

// Send delivers a to every alerter.
func (m Multi) Send(ctx context.Context, a Alert) error {
	var first error
	for _, al := range m {
		if err := al.Send(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
