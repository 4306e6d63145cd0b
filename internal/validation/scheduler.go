package validation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/validation/executor"
)

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	ScanInterval   time.Duration
	BatchSize      int
	NumWorkers     int
	CheckTimeout   time.Duration
	LaunchesPerSec float64
	LaunchBurst    int
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScanInterval:   30 * time.Second,
		BatchSize:      100,
		NumWorkers:     5,
		CheckTimeout:   2 * time.Minute,
		LaunchesPerSec: 10,
		LaunchBurst:    5,
	}
}

// Scheduler periodically scans for due rules and dispatches them to a
// bounded worker pool. Check outcomes never propagate back as errors: a
// failing or unreachable check feeds the rule's own status machine and the
// scan loop keeps going.
type Scheduler struct {
	config   SchedulerConfig
	service  *Service
	repo     Repository
	registry *executor.Registry
	limiter  *rate.Limiter

	jobs   chan domain.CheckDefinition
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over the given rule catalogue.
func NewScheduler(config SchedulerConfig, service *Service, repo Repository, registry *executor.Registry) *Scheduler {
	return &Scheduler{
		config:   config,
		service:  service,
		repo:     repo,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(config.LaunchesPerSec), config.LaunchBurst),
		jobs:     make(chan domain.CheckDefinition, config.BatchSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scan loop and worker goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting validation scheduler",
		"workers", s.config.NumWorkers,
		"scan_interval", s.config.ScanInterval,
		"check_timeout", s.config.CheckTimeout,
	)

	for i := 0; i < s.config.NumWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.scanLoop(ctx)
}

// Stop gracefully stops the scheduler. In-flight checks finish and record
// their outcome.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("validation scheduler stopped")
}

// RunNow executes a rule immediately, bypassing the due-time check. Used for
// explicit operator triggers, the only way on-demand rules run.
func (s *Scheduler) RunNow(ctx context.Context, ruleID string) (*domain.Execution, error) {
	rule, err := s.service.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.Status == domain.RuleStatusDraft || rule.Status == domain.RuleStatusDeprecated {
		return nil, domain.NewPreconditionError("check_rule", ruleID, "trigger",
			"draft and deprecated rules cannot be triggered, current status "+string(rule.Status))
	}
	return s.execute(ctx, *rule)
}

func (s *Scheduler) scanLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scheduler) scan(ctx context.Context) {
	due, err := s.repo.ListDue(ctx, time.Now().UTC(), s.config.BatchSize)
	if err != nil {
		slog.Error("failed to list due rules", "error", err)
		return
	}

	dispatched := 0
	for _, rule := range due {
		select {
		case s.jobs <- rule:
			dispatched++
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}

	recordScan(dispatched)
	if dispatched > 0 {
		slog.Debug("dispatched due rules", "count", dispatched)
	}

	s.observeRuleHealth(ctx)
}

// observeRuleHealth refreshes the errored-rule and due-backlog gauges. A
// count failure skips the refresh; the gauges keep their last value.
func (s *Scheduler) observeRuleHealth(ctx context.Context) {
	errored, err := s.repo.CountErrored(ctx)
	if err != nil {
		slog.Warn("failed to count errored rules", "error", err)
		return
	}
	backlog, err := s.repo.CountDue(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("failed to count due backlog", "error", err)
		return
	}
	recordRuleHealth(errored, backlog)
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case rule := <-s.jobs:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := s.execute(ctx, rule); err != nil {
				slog.Error("failed to record check outcome",
					"worker", workerID,
					"check_id", rule.ID,
					"error", err,
				)
			}
		}
	}
}

// execute runs one rule under the configured timeout and records its
// outcome. A timeout or executor error is a failed execution with a distinct
// error string, feeding the same consecutive-failure counter.
func (s *Scheduler) execute(ctx context.Context, rule domain.CheckDefinition) (*domain.Execution, error) {
	if rule.Kind == domain.CheckKindManualReminder {
		return s.service.RecordSkipped(ctx, rule.ID, "manual validation reminder issued")
	}

	exec, err := s.registry.For(rule.Kind)
	if err != nil {
		errStr := err.Error()
		return s.service.RecordExecution(ctx, rule.ID, ExecutionInput{Error: &errStr})
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.CheckTimeout)
	defer cancel()

	start := time.Now()
	result, err := exec.Execute(runCtx, &rule)
	duration := time.Since(start)

	if err != nil {
		errStr := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			errStr = "timed out after " + s.config.CheckTimeout.String()
		}
		return s.service.RecordExecution(ctx, rule.ID, ExecutionInput{
			Duration: duration,
			Error:    &errStr,
		})
	}

	return s.service.RecordExecution(ctx, rule.ID, ExecutionInput{
		Passed:      result.Passed,
		Detail:      result.Detail,
		Duration:    duration,
		Findings:    result.Findings,
		EvidenceIDs: result.EvidenceIDs,
	})
}
