package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/validation/executor"
)

// stubExecutor implements executor.Executor for testing.
type stubExecutor struct {
	kind   domain.CheckKind
	result *executor.Result
	err    error
	block  time.Duration
}

func (s *stubExecutor) Kind() domain.CheckKind {
	return s.kind
}

func (s *stubExecutor) Execute(ctx context.Context, _ *domain.CheckDefinition) (*executor.Result, error) {
	if s.block > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.block):
		}
	}
	return s.result, s.err
}

func newTestScheduler(t *testing.T, repo *mockRepository, service *Service, executors ...executor.Executor) *Scheduler {
	t.Helper()
	cfg := DefaultSchedulerConfig()
	cfg.CheckTimeout = 100 * time.Millisecond
	return NewScheduler(cfg, service, repo, executor.NewRegistry(executors...))
}

func TestRunNow_RecordsPass(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)
	rule := dailyRule(t, repo, service)
	_, err := service.Activate(context.Background(), rule.ID)
	require.NoError(t, err)

	scheduler := newTestScheduler(t, repo, service, &stubExecutor{
		kind:   domain.CheckKindAPIProbe,
		result: &executor.Result{Passed: true, Detail: "probe ok"},
	})

	execution, err := scheduler.RunNow(context.Background(), rule.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionPassed, execution.Status)
	assert.True(t, execution.Passed)

	current, err := service.GetRule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current.ExecutionCount)
	assert.Equal(t, int64(1), current.PassCount)
}

func TestRunNow_ExecutorErrorRecordedAsFailure(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)
	rule := dailyRule(t, repo, service)
	_, err := service.Activate(context.Background(), rule.ID)
	require.NoError(t, err)

	scheduler := newTestScheduler(t, repo, service, &stubExecutor{
		kind: domain.CheckKindAPIProbe,
		err:  errors.New("scanner unreachable"),
	})

	execution, err := scheduler.RunNow(context.Background(), rule.ID)

	require.NoError(t, err, "executor errors feed the rule status machine, not the caller")
	assert.Equal(t, domain.ExecutionErrored, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Contains(t, *execution.Error, "scanner unreachable")

	current, err := service.GetRule(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.ConsecutiveFailures)
}

func TestRunNow_TimeoutDistinguishedFromFailure(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)
	rule := dailyRule(t, repo, service)
	_, err := service.Activate(context.Background(), rule.ID)
	require.NoError(t, err)

	scheduler := newTestScheduler(t, repo, service, &stubExecutor{
		kind:  domain.CheckKindAPIProbe,
		block: time.Second,
	})

	execution, err := scheduler.RunNow(context.Background(), rule.ID)

	require.NoError(t, err)
	require.NotNil(t, execution.Error)
	assert.Contains(t, *execution.Error, "timed out")
}

func TestRunNow_ManualReminderSkips(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)
	rule, err := service.CreateRule(context.Background(), CreateRuleInput{
		Name:      "annual tabletop exercise",
		Kind:      domain.CheckKindManualReminder,
		Frequency: domain.FrequencyQuarterly,
		Config: domain.CheckConfig{
			ManualReminder: &domain.ManualReminderConfig{Assignee: "irt"},
		},
	})
	require.NoError(t, err)
	_, err = service.Activate(context.Background(), rule.ID)
	require.NoError(t, err)

	scheduler := newTestScheduler(t, repo, service)

	execution, err := scheduler.RunNow(context.Background(), rule.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionSkipped, execution.Status)
}

func TestScan_RefreshesRuleHealthGauges(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)
	rule := dailyRule(t, repo, service)
	_, err := service.Activate(context.Background(), rule.ID)
	require.NoError(t, err)

	errStr := "unreachable"
	for i := 0; i < 3; i++ {
		_, err := service.RecordExecution(context.Background(), rule.ID, ExecutionInput{Error: &errStr})
		require.NoError(t, err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	repo.rules[rule.ID].NextDueAt = &past

	scheduler := newTestScheduler(t, repo, service)
	scheduler.scan(context.Background())

	assert.Equal(t, 1.0, promtestutil.ToFloat64(rulesErrored), "errored rule must surface on the gauge")
	assert.Equal(t, 1.0, promtestutil.ToFloat64(rulesDueBacklog))
}

func TestRunNow_RejectsDraftAndDeprecated(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)
	rule := dailyRule(t, repo, service)

	scheduler := newTestScheduler(t, repo, service)

	_, err := scheduler.RunNow(context.Background(), rule.ID)

	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}
