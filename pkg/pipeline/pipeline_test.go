package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-trust/pkg/aggregator"
	"github.com/StrathCole/oracle-trust/pkg/certmonitor"
	"github.com/StrathCole/oracle-trust/pkg/publisher"
	"github.com/StrathCole/oracle-trust/pkg/publisher/cas"
	"github.com/StrathCole/oracle-trust/pkg/publisher/mirror"
	"github.com/StrathCole/oracle-trust/pkg/submitter"
)

type fakeAggregator struct {
	tokens  []string
	results map[string]*aggregator.Snapshot
}

func (f *fakeAggregator) Tokens() []string { return f.tokens }

func (f *fakeAggregator) Aggregate(_ context.Context, id string) (*aggregator.Snapshot, error) {
	if s, ok := f.results[id]; ok {
		return s, nil
	}
	return nil, aggregator.ErrInsufficientData
}

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, s submitter.Submission) (string, error) {
	args := m.Called(ctx, s)
	return args.String(0), args.Error(1)
}

type failingPublisher struct{}

func (failingPublisher) Latest(context.Context) (*publisher.Pointer, error) {
	return nil, publisher.ErrNoPointer
}

func (failingPublisher) Publish(context.Context, []byte, string) (*publisher.PublishedObject, error) {
	return nil, publisher.ErrPublishIntegrity
}

// slowPublisher spends the job budget while publishing.
type slowPublisher struct {
	*publisher.Publisher
	advance func()
}

func (s *slowPublisher) Publish(ctx context.Context, payload []byte, previousID string) (*publisher.PublishedObject, error) {
	obj, err := s.Publisher.Publish(ctx, payload, previousID)
	s.advance()
	return obj, err
}

type fakeMonitor struct {
	report *certmonitor.Report
	err    error
}

func (f fakeMonitor) Run(context.Context) (*certmonitor.Report, error) { return f.report, f.err }

func newPublisher(t *testing.T) (*publisher.Publisher, mirror.Store) {
	t.Helper()
	fs := afero.NewMemMapFs()
	primary, err := cas.NewLocalStore(fs, "/cas")
	require.NoError(t, err)
	m, err := mirror.NewFSStore(fs, "/mirror", "")
	require.NoError(t, err)
	pub, err := publisher.New(publisher.Config{
		Prefix:       "oracle_test",
		ExpectedKeys: []string{"timestamp", "snapshots"},
	}, primary, m, nil)
	require.NoError(t, err)
	return pub, m
}

func snapshot(id, scaled string) *aggregator.Snapshot {
	return &aggregator.Snapshot{TokenID: id, Scaled: scaled, Decimals: 10}
}

func TestPublishJobFullCycle(t *testing.T) {
	pub, m := newPublisher(t)
	agg := &fakeAggregator{
		tokens:  []string{"LUNC", "USTC"},
		results: map[string]*aggregator.Snapshot{"LUNC": snapshot("LUNC", "1005000000000"), "USTC": snapshot("USTC", "200000000")},
	}
	sub := new(MockSubmitter)
	sub.On("Submit", mock.Anything, mock.MatchedBy(func(s submitter.Submission) bool {
		return len(s.Aggregates) == 2 && s.Aggregates[0].Price == "1005000000000" && s.ContentID != ""
	})).Return("tx-1", nil)

	report := NewPublishJob(agg, pub, sub, "mainnet", time.Minute, nil).Run(context.Background())

	assert.Equal(t, 0, report.ExitCode(), report.Errors)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, "published", report.Status)
	assert.Equal(t, "tx-1", report.TxRef)
	assert.NotEmpty(t, report.Commitment)
	sub.AssertExpectations(t)

	ptr, err := pub.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.ContentID, ptr.CID)

	raw, err := m.Get(context.Background(), ptr.ObjectKey)
	require.NoError(t, err)
	var doc BatchDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, report.RunID, doc.RunID)
	assert.Equal(t, "mainnet", doc.Network)
	assert.Len(t, doc.Snapshots, 2)
}

func TestPublishJobToleratesTokenFailure(t *testing.T) {
	pub, _ := newPublisher(t)
	agg := &fakeAggregator{
		tokens:  []string{"LUNC", "BROKEN"},
		results: map[string]*aggregator.Snapshot{"LUNC": snapshot("LUNC", "1")},
	}
	sub := new(MockSubmitter)
	sub.On("Submit", mock.Anything, mock.Anything).Return("tx-2", nil)

	report := NewPublishJob(agg, pub, sub, "mainnet", 0, nil).Run(context.Background())

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, "tx-2", report.TxRef)
}

func TestPublishJobNothingToPublish(t *testing.T) {
	pub, _ := newPublisher(t)
	agg := &fakeAggregator{tokens: []string{"BROKEN"}}
	sub := new(MockSubmitter)

	report := NewPublishJob(agg, pub, sub, "mainnet", 0, nil).Run(context.Background())

	assert.Equal(t, 1, report.ExitCode())
	assert.Empty(t, report.ContentID)
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestPublishJobPublishFailureSkipsSubmit(t *testing.T) {
	agg := &fakeAggregator{
		tokens:  []string{"LUNC"},
		results: map[string]*aggregator.Snapshot{"LUNC": snapshot("LUNC", "1")},
	}
	sub := new(MockSubmitter)

	report := NewPublishJob(agg, failingPublisher{}, sub, "mainnet", 0, nil).Run(context.Background())

	assert.Equal(t, 1, report.ExitCode())
	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "publish")
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestPublishJobBudgetSkipsSubmission(t *testing.T) {
	pub, _ := newPublisher(t)
	agg := &fakeAggregator{
		tokens:  []string{"LUNC"},
		results: map[string]*aggregator.Snapshot{"LUNC": snapshot("LUNC", "1")},
	}
	sub := new(MockSubmitter)

	clock := time.Unix(1700000000, 0)
	slow := &slowPublisher{Publisher: pub, advance: func() { clock = clock.Add(time.Minute) }}
	job := NewPublishJob(agg, slow, sub, "mainnet", 10*time.Second, nil)
	job.now = func() time.Time { return clock }

	report := job.Run(context.Background())

	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, 1, report.Succeeded)
	assert.NotEmpty(t, report.ContentID)
	assert.Equal(t, []string{"submit"}, report.Skipped)
	assert.Equal(t, []string{"submit: budget exhausted"}, report.Errors)
	assert.Empty(t, report.TxRef)
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

// slowAggregator spends the job budget on every token.
type slowAggregator struct {
	*fakeAggregator
	advance func()
}

func (s *slowAggregator) Aggregate(ctx context.Context, id string) (*aggregator.Snapshot, error) {
	defer s.advance()
	return s.fakeAggregator.Aggregate(ctx, id)
}

func TestPublishJobBudgetSkipsTokensAndPublish(t *testing.T) {
	pub, _ := newPublisher(t)
	clock := time.Unix(1700000000, 0)
	agg := &slowAggregator{
		fakeAggregator: &fakeAggregator{
			tokens: []string{"LUNC", "USTC"},
			results: map[string]*aggregator.Snapshot{
				"LUNC": snapshot("LUNC", "1"),
				"USTC": snapshot("USTC", "2"),
			},
		},
		advance: func() { clock = clock.Add(time.Minute) },
	}
	sub := new(MockSubmitter)
	job := NewPublishJob(agg, pub, sub, "mainnet", 10*time.Second, nil)
	job.now = func() time.Time { return clock }

	report := job.Run(context.Background())

	assert.Equal(t, 1, report.ExitCode())
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, []string{"aggregate:USTC", "publish", "submit"}, report.Skipped)
	assert.Empty(t, report.ContentID)
	_, err := pub.Latest(context.Background())
	assert.ErrorIs(t, err, publisher.ErrNoPointer)
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestPublishJobSubmitFailure(t *testing.T) {
	pub, _ := newPublisher(t)
	agg := &fakeAggregator{
		tokens:  []string{"LUNC"},
		results: map[string]*aggregator.Snapshot{"LUNC": snapshot("LUNC", "1")},
	}
	sub := new(MockSubmitter)
	sub.On("Submit", mock.Anything, mock.Anything).Return("", errors.New("rpc down"))

	report := NewPublishJob(agg, pub, sub, "mainnet", 0, nil).Run(context.Background())

	assert.Equal(t, 1, report.ExitCode())
	assert.NotEmpty(t, report.ContentID)
}

func TestCertMonitorJob(t *testing.T) {
	res := &certmonitor.Report{
		RunID: "run-1",
		Statuses: []certmonitor.CertStatus{
			{Provider: "cloudflare", Status: certmonitor.StatusValid},
			{Provider: "google", Status: certmonitor.StatusChanged},
		},
	}

	report := NewCertMonitorJob(fakeMonitor{report: res}, nil).Run(context.Background())
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Changed)
	assert.Equal(t, 0, report.ExitCode())

	res.Statuses = append(res.Statuses, certmonitor.CertStatus{Provider: "quad9", Status: certmonitor.StatusFailed, Error: "timeout"})
	report = NewCertMonitorJob(fakeMonitor{report: res}, nil).Run(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.ExitCode())
	assert.Contains(t, report.Errors[0], "quad9")
}

func TestCertMonitorJobRecordFailure(t *testing.T) {
	res := &certmonitor.Report{Statuses: []certmonitor.CertStatus{{Provider: "a", Status: certmonitor.StatusValid}}}

	report := NewCertMonitorJob(fakeMonitor{report: res, err: errors.New("kv down")}, nil).Run(context.Background())
	assert.Equal(t, 1, report.ExitCode())
}
