package authorization

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/indicators"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	byService map[string]*domain.ServiceAuthorization
	nextID    int
}

func newMockRepository() *mockRepository {
	return &mockRepository{byService: make(map[string]*domain.ServiceAuthorization)}
}

func (m *mockRepository) Create(_ context.Context, auth *domain.ServiceAuthorization) error {
	if _, ok := m.byService[auth.ServiceID]; ok {
		return ErrDuplicateAuthorization
	}
	m.nextID++
	auth.ID = "auth-" + strconv.Itoa(m.nextID)
	auth.Version = 1
	auth.CreatedAt = time.Now()
	m.byService[auth.ServiceID] = auth
	return nil
}

func (m *mockRepository) GetByServiceID(_ context.Context, serviceID string) (*domain.ServiceAuthorization, error) {
	if auth, ok := m.byService[serviceID]; ok {
		copied := *auth
		return &copied, nil
	}
	return nil, ErrAuthorizationNotFound
}

func (m *mockRepository) List(_ context.Context) ([]domain.ServiceAuthorization, error) {
	result := make([]domain.ServiceAuthorization, 0, len(m.byService))
	for _, auth := range m.byService {
		result = append(result, *auth)
	}
	return result, nil
}

func (m *mockRepository) Update(_ context.Context, auth *domain.ServiceAuthorization) error {
	stored, ok := m.byService[auth.ServiceID]
	if !ok {
		return ErrAuthorizationNotFound
	}
	if stored.Version != auth.Version {
		return domain.NewConflictError("service_authorization", auth.ID)
	}
	auth.Version++
	copied := *auth
	m.byService[auth.ServiceID] = &copied
	return nil
}

func (m *mockRepository) UpdateMetrics(_ context.Context, serviceID string, metrics domain.ComplianceMetrics) error {
	auth, ok := m.byService[serviceID]
	if !ok {
		return ErrAuthorizationNotFound
	}
	auth.Metrics = metrics
	return nil
}

// mockLedger implements IndicatorLister for testing.
type mockLedger struct {
	records []domain.Indicator
	calls   int
}

func (m *mockLedger) ListByService(_ context.Context, serviceID string, _ indicators.Filter) ([]domain.Indicator, error) {
	m.calls++
	result := make([]domain.Indicator, 0)
	for _, record := range m.records {
		if record.ServiceID == serviceID {
			result = append(result, record)
		}
	}
	return result, nil
}

func registerService(t *testing.T, service *Service, serviceID string) {
	t.Helper()
	_, err := service.Create(context.Background(), CreateInput{
		ServiceID:   serviceID,
		ServiceName: "payments-api",
		ImpactTier:  domain.TierModerate,
	})
	require.NoError(t, err)
}

// ledgerIndicator builds an indicator with the given compliance and mode.
func ledgerIndicator(serviceID string, n int, compliant bool, mode domain.ValidationMode) domain.Indicator {
	status := domain.ComplianceNonCompliant
	if compliant {
		status = domain.ComplianceCompliant
	}
	return domain.Indicator{
		ID:               "ind-" + strconv.Itoa(n),
		ServiceID:        serviceID,
		Reference:        "KSI-CNA-" + strconv.Itoa(n),
		ComplianceStatus: status,
		ValidationMode:   mode,
	}
}

func TestRecountMetrics_CountsAndPercentages(t *testing.T) {
	repo := newMockRepository()
	ledger := &mockLedger{}
	service := NewService(repo, ledger)
	ctx := context.Background()

	registerService(t, service, "svc-1")

	// 10 indicators: 6 compliant, 4 under automated or hybrid validation.
	for n := 1; n <= 10; n++ {
		mode := domain.ValidationModeManual
		if n <= 4 {
			mode = domain.ValidationModeAutomated
		}
		ledger.records = append(ledger.records, ledgerIndicator("svc-1", n, n <= 6, mode))
	}

	require.NoError(t, service.RecountMetrics(ctx, "svc-1"))

	auth, err := service.Get(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, 10, auth.Metrics.TotalIndicators)
	assert.Equal(t, 6, auth.Metrics.CompliantIndicators)
	assert.Equal(t, 4, auth.Metrics.AutomatedIndicators)
	assert.InDelta(t, 60.0, auth.Metrics.CompliancePercent, 0.001)
	assert.InDelta(t, 40.0, auth.Metrics.AutomationPercent, 0.001)
	assert.False(t, auth.Metrics.RecountedAt.IsZero())
}

func TestRecountMetrics_Idempotent(t *testing.T) {
	repo := newMockRepository()
	ledger := &mockLedger{}
	service := NewService(repo, ledger)
	ctx := context.Background()

	registerService(t, service, "svc-1")
	ledger.records = []domain.Indicator{
		ledgerIndicator("svc-1", 1, true, domain.ValidationModeAutomated),
		ledgerIndicator("svc-1", 2, false, domain.ValidationModeManual),
		ledgerIndicator("svc-1", 3, true, domain.ValidationModeHybrid),
	}

	require.NoError(t, service.RecountMetrics(ctx, "svc-1"))
	first, err := service.Get(ctx, "svc-1")
	require.NoError(t, err)

	require.NoError(t, service.RecountMetrics(ctx, "svc-1"))
	second, err := service.Get(ctx, "svc-1")
	require.NoError(t, err)

	assert.Equal(t, 2, ledger.calls, "every recount re-reads the ledger in full")
	assert.Equal(t, first.Metrics.TotalIndicators, second.Metrics.TotalIndicators)
	assert.Equal(t, first.Metrics.CompliantIndicators, second.Metrics.CompliantIndicators)
	assert.Equal(t, first.Metrics.AutomatedIndicators, second.Metrics.AutomatedIndicators)
	assert.Equal(t, first.Metrics.CompliancePercent, second.Metrics.CompliancePercent)
	assert.Equal(t, first.Metrics.AutomationPercent, second.Metrics.AutomationPercent)
}

func TestRecountMetrics_EmptyLedgerYieldsZeroes(t *testing.T) {
	repo := newMockRepository()
	ledger := &mockLedger{}
	service := NewService(repo, ledger)
	ctx := context.Background()

	registerService(t, service, "svc-1")

	require.NoError(t, service.RecountMetrics(ctx, "svc-1"))

	auth, err := service.Get(ctx, "svc-1")
	require.NoError(t, err)
	assert.Zero(t, auth.Metrics.TotalIndicators)
	assert.Zero(t, auth.Metrics.CompliancePercent)
	assert.Zero(t, auth.Metrics.AutomationPercent)
}

func TestLifecycle_DraftToGranted(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockLedger{})
	ctx := context.Background()

	registerService(t, service, "svc-1")

	ready, err := service.MarkReady(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationReady, ready.Status)

	submitted, err := service.Submit(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationInProcess, submitted.Status)

	granted, err := service.Grant(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationGranted, granted.Status)
	require.NotNil(t, granted.AuthorizedAt)
	require.NotNil(t, granted.NextAssessmentAt)
	assert.Equal(t, granted.AuthorizedAt.Add(assessmentInterval), *granted.NextAssessmentAt)
}

func TestGrant_OnlyFromInProcess(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockLedger{})
	ctx := context.Background()

	registerService(t, service, "svc-1")

	_, err := service.Grant(ctx, "svc-1")

	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "grant authorization", perr.Action)
}

func TestRevoke_OnlyFromGranted(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockLedger{})
	ctx := context.Background()

	registerService(t, service, "svc-1")

	_, err := service.Revoke(ctx, "svc-1")
	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)

	_, err = service.MarkReady(ctx, "svc-1")
	require.NoError(t, err)
	_, err = service.Submit(ctx, "svc-1")
	require.NoError(t, err)
	_, err = service.Grant(ctx, "svc-1")
	require.NoError(t, err)

	revoked, err := service.Revoke(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationRevoked, revoked.Status)
}

func TestWithdraw_TerminalStatesRejected(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockLedger{})
	ctx := context.Background()

	registerService(t, service, "svc-1")

	withdrawn, err := service.Withdraw(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationWithdrawn, withdrawn.Status)

	_, err = service.Withdraw(ctx, "svc-1")
	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}

func TestCreate_DuplicateService(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, &mockLedger{})
	ctx := context.Background()

	registerService(t, service, "svc-1")

	_, err := service.Create(ctx, CreateInput{
		ServiceID:   "svc-1",
		ServiceName: "payments-api",
		ImpactTier:  domain.TierModerate,
	})

	assert.ErrorIs(t, err, ErrDuplicateAuthorization)
}
