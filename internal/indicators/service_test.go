package indicators

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/evidence"
)

// mockRepository implements Repository for testing.
type mockRepository struct {
	byID        map[string]*domain.Indicator
	createErr   error
	updateErr   error
	applyResult func(serviceID string, references []string, result ValidationResult) (int, error)

	applied []ValidationResult
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		byID: make(map[string]*domain.Indicator),
	}
}

func (m *mockRepository) Create(_ context.Context, indicator *domain.Indicator) error {
	if m.createErr != nil {
		return m.createErr
	}
	indicator.ID = "test-indicator-id"
	m.byID[indicator.ID] = indicator
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*domain.Indicator, error) {
	if ind, ok := m.byID[id]; ok {
		copied := *ind
		return &copied, nil
	}
	return nil, ErrIndicatorNotFound
}

func (m *mockRepository) GetByReference(_ context.Context, serviceID, reference string) (*domain.Indicator, error) {
	for _, ind := range m.byID {
		if ind.ServiceID == serviceID && ind.Reference == reference {
			copied := *ind
			return &copied, nil
		}
	}
	return nil, ErrIndicatorNotFound
}

func (m *mockRepository) ListByService(_ context.Context, serviceID string, _ Filter) ([]domain.Indicator, error) {
	result := make([]domain.Indicator, 0)
	for _, ind := range m.byID {
		if ind.ServiceID == serviceID {
			result = append(result, *ind)
		}
	}
	return result, nil
}

func (m *mockRepository) Update(_ context.Context, indicator *domain.Indicator) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	copied := *indicator
	m.byID[indicator.ID] = &copied
	return nil
}

func (m *mockRepository) ApplyValidationResult(_ context.Context, serviceID string, references []string, result ValidationResult) (int, error) {
	m.applied = append(m.applied, result)
	if m.applyResult != nil {
		return m.applyResult(serviceID, references, result)
	}
	return len(references), nil
}

// mockRecounter implements MetricsRecounter for testing.
type mockRecounter struct {
	called    int
	serviceID string
	err       error
}

func (m *mockRecounter) RecountMetrics(_ context.Context, serviceID string) error {
	m.called++
	m.serviceID = serviceID
	return m.err
}

func TestCreate_DefaultsToUnknownCompliance(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)

	ind, err := service.Create(context.Background(), CreateInput{
		ServiceID: "svc-1",
		Reference: "KSI-IAM-01",
		Category:  "identity and access management",
		Name:      "Phishing-resistant MFA",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ImplementationNotStarted, ind.ImplementationStatus)
	assert.Equal(t, domain.ComplianceUnknown, ind.ComplianceStatus)
	assert.Equal(t, domain.ValidationModeNotValidated, ind.ValidationMode)
}

func TestCreate_EmptyReference(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)

	ind, err := service.Create(context.Background(), CreateInput{ServiceID: "svc-1"})

	assert.Nil(t, ind)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreate_TriggersRecount(t *testing.T) {
	repo := newMockRepository()
	recounter := &mockRecounter{}
	service := NewService(repo, nil, recounter)

	_, err := service.Create(context.Background(), CreateInput{
		ServiceID: "svc-1",
		Reference: "KSI-CNA-01",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, recounter.called)
	assert.Equal(t, "svc-1", recounter.serviceID)
}

func TestCreate_ContinuesIfRecountFails(t *testing.T) {
	repo := newMockRepository()
	recounter := &mockRecounter{err: errors.New("recount error")}
	service := NewService(repo, nil, recounter)

	ind, err := service.Create(context.Background(), CreateInput{
		ServiceID: "svc-1",
		Reference: "KSI-CNA-01",
	})

	require.NoError(t, err)
	assert.NotNil(t, ind)
	assert.Equal(t, 1, recounter.called)
}

func TestReview_CompliantRequiresValidation(t *testing.T) {
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{
		ID:               "ind-1",
		ServiceID:        "svc-1",
		Reference:        "KSI-IAM-01",
		ComplianceStatus: domain.ComplianceUnknown,
	}
	service := NewService(repo, nil, nil)

	compliant := domain.ComplianceCompliant
	ind, err := service.Review(context.Background(), "ind-1", ReviewInput{
		ComplianceStatus: &compliant,
	})

	assert.Nil(t, ind)
	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "mark compliant", perr.Action)
}

func TestReview_CompliantAllowedAfterValidation(t *testing.T) {
	validatedAt := time.Now().Add(-time.Hour)
	passed := true
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{
		ID:                   "ind-1",
		ServiceID:            "svc-1",
		Reference:            "KSI-IAM-01",
		ComplianceStatus:     domain.ComplianceNonCompliant,
		LastValidatedAt:      &validatedAt,
		LastValidationPassed: &passed,
	}
	service := NewService(repo, nil, nil)

	compliant := domain.ComplianceCompliant
	ind, err := service.Review(context.Background(), "ind-1", ReviewInput{
		ComplianceStatus: &compliant,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ComplianceCompliant, ind.ComplianceStatus)
}

func TestReview_InvalidAutomationPercent(t *testing.T) {
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{ID: "ind-1", ServiceID: "svc-1"}
	service := NewService(repo, nil, nil)

	percent := 150
	ind, err := service.Review(context.Background(), "ind-1", ReviewInput{
		AutomationPercent: &percent,
	})

	assert.Nil(t, ind)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReview_NotFound(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil, nil)

	_, err := service.Review(context.Background(), "missing", ReviewInput{})

	assert.ErrorIs(t, err, ErrIndicatorNotFound)
}

func TestMarkNotApplicable_ResetsCompliance(t *testing.T) {
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{
		ID:                   "ind-1",
		ServiceID:            "svc-1",
		ImplementationStatus: domain.ImplementationImplemented,
		ComplianceStatus:     domain.ComplianceNonCompliant,
	}
	service := NewService(repo, nil, nil)

	ind, err := service.MarkNotApplicable(context.Background(), "ind-1", "service has no external DNS")

	require.NoError(t, err)
	assert.Equal(t, domain.ImplementationNotApplicable, ind.ImplementationStatus)
	assert.Equal(t, domain.ComplianceUnknown, ind.ComplianceStatus)
}

func TestAttachEvidence_ValidatesAgainstStore(t *testing.T) {
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{ID: "ind-1", ServiceID: "svc-1"}
	store := evidence.NewMemoryStore()
	store.Put(evidence.Metadata{ID: "scan-2026-q3", Size: 1024})
	service := NewService(repo, store, nil)

	ind, err := service.AttachEvidence(context.Background(), "ind-1", []string{"scan-2026-q3"})

	require.NoError(t, err)
	assert.Equal(t, []string{"scan-2026-q3"}, ind.EvidenceIDs)
}

func TestAttachEvidence_UnresolvableEvidence(t *testing.T) {
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{ID: "ind-1", ServiceID: "svc-1"}
	service := NewService(repo, evidence.NewMemoryStore(), nil)

	ind, err := service.AttachEvidence(context.Background(), "ind-1", []string{"missing-object"})

	assert.Nil(t, ind)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestAttachEvidence_DeduplicatesIDs(t *testing.T) {
	repo := newMockRepository()
	repo.byID["ind-1"] = &domain.Indicator{
		ID:          "ind-1",
		ServiceID:   "svc-1",
		EvidenceIDs: []string{"scan-a"},
	}
	service := NewService(repo, nil, nil)

	ind, err := service.AttachEvidence(context.Background(), "ind-1", []string{"scan-a", "scan-b"})

	require.NoError(t, err)
	assert.Equal(t, []string{"scan-a", "scan-b"}, ind.EvidenceIDs)
}

func TestApplyValidationResult_StampsOutcome(t *testing.T) {
	repo := newMockRepository()
	recounter := &mockRecounter{}
	service := NewService(repo, nil, recounter)

	validatedAt := time.Now()
	err := service.ApplyValidationResult(context.Background(), "svc-1", []string{"KSI-MLA-01"}, true, validatedAt)

	require.NoError(t, err)
	require.Len(t, repo.applied, 1)
	assert.True(t, repo.applied[0].Passed)
	assert.Equal(t, validatedAt, repo.applied[0].ValidatedAt)
	assert.Equal(t, 1, recounter.called)
}

func TestApplyValidationResult_NoReferences(t *testing.T) {
	repo := newMockRepository()
	recounter := &mockRecounter{}
	service := NewService(repo, nil, recounter)

	err := service.ApplyValidationResult(context.Background(), "svc-1", nil, true, time.Now())

	require.NoError(t, err)
	assert.Empty(t, repo.applied)
	assert.Equal(t, 0, recounter.called)
}
