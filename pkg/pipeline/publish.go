package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/StrathCole/oracle-trust/pkg/aggregator"
	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/publisher"
	"github.com/StrathCole/oracle-trust/pkg/submitter"
)

// Aggregator produces signed snapshots.
type Aggregator interface {
	Tokens() []string
	Aggregate(ctx context.Context, tokenID string) (*aggregator.Snapshot, error)
}

// Publisher stores batch documents.
type Publisher interface {
	Latest(ctx context.Context) (*publisher.Pointer, error)
	Publish(ctx context.Context, payload []byte, previousID string) (*publisher.PublishedObject, error)
}

// BatchDocument is the payload published for one run.
type BatchDocument struct {
	RunID     string                 `json:"runId"`
	Timestamp int64                  `json:"timestamp"` // unix millis
	Network   string                 `json:"network"`
	Snapshots []*aggregator.Snapshot `json:"snapshots"`
}

// PublishJob aggregates every token, publishes the batch and submits the commitment.
type PublishJob struct {
	agg     Aggregator
	pub     Publisher
	sub     submitter.Submitter
	network string
	budget  time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

// NewPublishJob creates the job. A zero budget never expires.
func NewPublishJob(agg Aggregator, pub Publisher, sub submitter.Submitter, network string, budget time.Duration, logger *logging.Logger) *PublishJob {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &PublishJob{
		agg:     agg,
		pub:     pub,
		sub:     sub,
		network: network,
		budget:  budget,
		logger:  logger.With("job", "publish"),
		now:     time.Now,
	}
}

// Run executes one cycle. Tokens that fail to aggregate are left out of the batch; once the
// budget is spent no further step is started, in-flight calls are left to finish.
func (j *PublishJob) Run(ctx context.Context) *JobReport {
	start := j.now().UTC()
	report := &JobReport{Job: "publish", RunID: uuid.NewString(), StartedAt: start}
	defer func() { report.FinishedAt = j.now().UTC() }()
	log := j.logger.With("run", report.RunID)

	expired := func() bool {
		return j.budget > 0 && j.now().Sub(start) >= j.budget
	}

	var snapshots []*aggregator.Snapshot
	for _, id := range j.agg.Tokens() {
		if expired() {
			report.skip("aggregate:" + id)
			continue
		}
		snap, err := j.agg.Aggregate(ctx, id)
		if err != nil {
			log.Warn("Skipping token", "token", id, "error", err)
			report.fail(fmt.Errorf("%s: %w", id, err))
			continue
		}
		snapshots = append(snapshots, snap)
		report.Succeeded++
	}

	if len(snapshots) == 0 {
		report.fail(errors.New("no token produced a snapshot"))
		return report
	}
	if expired() {
		report.skip("publish", "submit")
		log.Warn("Budget exhausted before publishing")
		return report
	}

	payload, err := json.Marshal(BatchDocument{
		RunID:     report.RunID,
		Timestamp: j.now().UnixMilli(),
		Network:   j.network,
		Snapshots: snapshots,
	})
	if err != nil {
		report.fail(fmt.Errorf("encode batch: %w", err))
		return report
	}

	var previous string
	ptr, err := j.pub.Latest(ctx)
	switch {
	case err == nil:
		previous = ptr.CID
	case errors.Is(err, publisher.ErrNoPointer):
	default:
		log.Warn("Could not read previous pointer, nothing will be retired", "error", err)
		report.Warnings = append(report.Warnings, err.Error())
	}

	obj, err := j.pub.Publish(ctx, payload, previous)
	if err != nil {
		report.fail(fmt.Errorf("publish: %w", err))
		return report
	}
	report.ContentID = obj.ContentID
	report.Commitment = obj.Commitment
	report.Status = string(obj.Status)
	if obj.RetireErr != nil {
		report.Warnings = append(report.Warnings, obj.RetireErr.Error())
	}

	if expired() {
		report.skip("submit")
		log.Warn("Budget exhausted, skipping submission")
		return report
	}
	if j.sub == nil {
		return report
	}

	aggs := make([]submitter.Aggregate, 0, len(snapshots))
	for _, s := range snapshots {
		aggs = append(aggs, submitter.Aggregate{TokenID: s.TokenID, Price: s.Scaled, Decimals: s.Decimals})
	}
	ref, err := j.sub.Submit(ctx, submitter.Submission{
		Commitment: obj.Commitment,
		ContentID:  obj.ContentID,
		Aggregates: aggs,
	})
	if err != nil {
		report.fail(fmt.Errorf("submit: %w", err))
		return report
	}
	report.TxRef = ref

	log.Info("Publish cycle complete",
		"tokens", len(snapshots),
		"cid", obj.ContentID,
		"status", obj.Status,
		"tx", ref,
	)
	return report
}
