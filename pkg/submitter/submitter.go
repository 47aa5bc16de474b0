// Package submitter hands published commitments to the settlement layer.
package submitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StrathCole/oracle-trust/pkg/logging"
)

// ErrInvalidSubmission is returned for submissions without a commitment.
var ErrInvalidSubmission = errors.New("invalid submission")

// Aggregate is the per-token value carried in a submission.
type Aggregate struct {
	TokenID  string `json:"tokenId"`
	Price    string `json:"price"` // scaled integer
	Decimals int32  `json:"decimals"`
}

// Submission is what goes on chain for one batch.
type Submission struct {
	Commitment string      `json:"commitment"`
	ContentID  string      `json:"contentId,omitempty"`
	Aggregates []Aggregate `json:"perTokenAggregates"`
}

// Submitter sends a submission and returns a transaction reference.
type Submitter interface {
	Submit(ctx context.Context, s Submission) (string, error)
}

// LogSubmitter logs submissions instead of sending them.
type LogSubmitter struct {
	logger *logging.Logger
}

// NewLogSubmitter creates a dry-run submitter.
func NewLogSubmitter(logger *logging.Logger) *LogSubmitter {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &LogSubmitter{logger: logger.With("component", "submitter")}
}

// Submit logs s and returns a deterministic pseudo reference derived from its encoding.
func (l *LogSubmitter) Submit(_ context.Context, s Submission) (string, error) {
	if s.Commitment == "" {
		return "", fmt.Errorf("%w: missing commitment", ErrInvalidSubmission)
	}
	body, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	ref := "dryrun-" + hex.EncodeToString(sum[:8])

	l.logger.Info("Dry-run submission",
		"ref", ref,
		"commitment", s.Commitment,
		"cid", s.ContentID,
		"tokens", len(s.Aggregates),
	)
	return ref, nil
}
