package changes

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/sink"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	changes map[string]*domain.ChangeRequest
	audits  map[string][]domain.AuditEntry
	nextID  int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		changes: make(map[string]*domain.ChangeRequest),
		audits:  make(map[string][]domain.AuditEntry),
	}
}

func (m *mockRepository) Create(_ context.Context, change *domain.ChangeRequest) error {
	m.nextID++
	change.ID = "chg-" + strconv.Itoa(m.nextID)
	change.Version = 1
	change.CreatedAt = time.Now()
	m.changes[change.ID] = change
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*domain.ChangeRequest, error) {
	if change, ok := m.changes[id]; ok {
		copied := *change
		return &copied, nil
	}
	return nil, ErrChangeNotFound
}

func (m *mockRepository) List(_ context.Context, _ Filter) ([]domain.ChangeRequest, error) {
	result := make([]domain.ChangeRequest, 0, len(m.changes))
	for _, change := range m.changes {
		result = append(result, *change)
	}
	return result, nil
}

func (m *mockRepository) Update(_ context.Context, change *domain.ChangeRequest) error {
	stored, ok := m.changes[change.ID]
	if !ok {
		return ErrChangeNotFound
	}
	if stored.Version != change.Version {
		return domain.NewConflictError("change_request", change.ID)
	}
	change.Version++
	copied := *change
	m.changes[change.ID] = &copied
	return nil
}

func (m *mockRepository) AppendAudit(_ context.Context, changeID string, entry *domain.AuditEntry) error {
	entry.ID = "audit-" + strconv.Itoa(len(m.audits[changeID])+1)
	m.audits[changeID] = append(m.audits[changeID], *entry)
	return nil
}

func (m *mockRepository) ListAudit(_ context.Context, changeID string) ([]domain.AuditEntry, error) {
	return m.audits[changeID], nil
}

// capturingSink implements sink.Publisher for testing.
type capturingSink struct {
	events []sink.Event
}

func (c *capturingSink) Publish(event sink.Event) {
	c.events = append(c.events, event)
}

func newChange(t *testing.T, service *Service, securityReview bool) *domain.ChangeRequest {
	t.Helper()
	change, err := service.Create(context.Background(), CreateInput{
		ServiceID:              "svc-1",
		Title:                  "rotate database engine version",
		Type:                   domain.ChangeTypeInfrastructure,
		SecurityReviewRequired: securityReview,
	})
	require.NoError(t, err)
	return change
}

func lowImpact() ImpactInput {
	return ImpactInput{
		Level:     domain.ImpactLow,
		RiskDelta: domain.RiskDeltaNeutral,
	}
}

func TestApprove_BeforeImpactAnalysisFails(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	change := newChange(t, service, false)

	_, err := service.Approve(context.Background(), change.ID)

	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}

func TestHappyPath_NoNotificationRequired(t *testing.T) {
	repo := newMockRepository()
	events := &capturingSink{}
	service := NewService(repo, events)
	change := newChange(t, service, false)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.StartImpactAnalysis(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.CompleteImpactAnalysis(ctx, change.ID, lowImpact())
	require.NoError(t, err)
	_, err = service.DetermineNotificationRequired(ctx, change.ID, false, "", "low impact, no boundary change")
	require.NoError(t, err)

	approved, err := service.Approve(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	implemented, err := service.MarkImplemented(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeImplemented, implemented.Status)

	require.Len(t, events.events, 1)
	assert.Equal(t, sink.EventChangeApproved, events.events[0].Kind)
}

func TestNotificationGate_FullPath(t *testing.T) {
	repo := newMockRepository()
	events := &capturingSink{}
	service := NewService(repo, events)
	change := newChange(t, service, false)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.StartImpactAnalysis(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.CompleteImpactAnalysis(ctx, change.ID, ImpactInput{
		Level:     domain.ImpactHigh,
		RiskDelta: domain.RiskDeltaIncreased,
	})
	require.NoError(t, err)
	_, err = service.DetermineNotificationRequired(ctx, change.ID, true, "boundary_change", "new external interface")
	require.NoError(t, err)

	// Approval is blocked until the notification is acknowledged.
	_, err = service.Approve(ctx, change.ID)
	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)

	submitted, err := service.SubmitNotification(ctx, change.ID, "SCN-2026-17")
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeSCNSubmitted, submitted.Status)
	require.NotNil(t, submitted.SCNCaseNo)

	// Still blocked: submitted is not acknowledged.
	_, err = service.Approve(ctx, change.ID)
	require.ErrorAs(t, err, &perr)

	_, err = service.AcknowledgeNotification(ctx, change.ID)
	require.NoError(t, err)

	approved, err := service.Approve(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeApproved, approved.Status)

	assert.Equal(t, sink.EventChangeNotificationSent, events.events[0].Kind)
	assert.Equal(t, sink.EventChangeApproved, events.events[1].Kind)
}

func TestApprove_BlockedByIncompleteSecurityReview(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	change := newChange(t, service, true)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.StartImpactAnalysis(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.CompleteImpactAnalysis(ctx, change.ID, lowImpact())
	require.NoError(t, err)
	_, err = service.DetermineNotificationRequired(ctx, change.ID, false, "", "")
	require.NoError(t, err)

	_, err = service.Approve(ctx, change.ID)
	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)

	_, err = service.CompleteSecurityReview(ctx, change.ID)
	require.NoError(t, err)

	approved, err := service.Approve(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeApproved, approved.Status)
}

func TestApprove_DirectlyFromImpactAssessed(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	change := newChange(t, service, false)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.StartImpactAnalysis(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.CompleteImpactAnalysis(ctx, change.ID, lowImpact())
	require.NoError(t, err)

	approved, err := service.Approve(ctx, change.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ChangeApproved, approved.Status)
}

func TestDetermineNotification_RequiresCompletedAnalysis(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	change := newChange(t, service, false)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)

	_, err = service.DetermineNotificationRequired(ctx, change.ID, false, "", "")

	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}

func TestSubmitNotification_OnlyFromRequiredBranch(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	change := newChange(t, service, false)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.StartImpactAnalysis(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.CompleteImpactAnalysis(ctx, change.ID, lowImpact())
	require.NoError(t, err)
	_, err = service.DetermineNotificationRequired(ctx, change.ID, false, "", "")
	require.NoError(t, err)

	_, err = service.SubmitNotification(ctx, change.ID, "SCN-1")

	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}

func TestRejectAndWithdraw_TerminalStates(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	ctx := context.Background()

	change := newChange(t, service, false)
	rejected, err := service.Reject(ctx, change.ID, "superseded by platform migration")
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeRejected, rejected.Status)

	_, err = service.Submit(ctx, change.ID)
	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr, "terminal states permit no further transitions")

	other := newChange(t, service, false)
	withdrawn, err := service.Withdraw(ctx, other.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeWithdrawn, withdrawn.Status)
}

func TestTransitionsAppendAuditTrail(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	change := newChange(t, service, false)
	ctx := context.Background()

	_, err := service.Submit(ctx, change.ID)
	require.NoError(t, err)
	_, err = service.StartImpactAnalysis(ctx, change.ID)
	require.NoError(t, err)

	entries := repo.audits[change.ID]
	require.Len(t, entries, 3)
	assert.Equal(t, "drafted", entries[0].EventKind)
	assert.Equal(t, "submitted", entries[1].EventKind)
	assert.Equal(t, domain.ChangeSubmitted, entries[1].Status)
	assert.Equal(t, "impact_analysis_started", entries[2].EventKind)
	assert.Equal(t, domain.ChangeImpactAnalysis, entries[2].Status)
}
