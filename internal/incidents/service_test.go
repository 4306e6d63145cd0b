package incidents

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
	incidents    map[string]*domain.Incident
	timelines    map[string][]domain.TimelineEntry
	nextID       int
	beforeUpdate func()
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents: make(map[string]*domain.Incident),
		timelines: make(map[string][]domain.TimelineEntry),
	}
}

func (m *mockRepository) Create(_ context.Context, incident *domain.Incident) error {
	m.nextID++
	incident.ID = "inc-" + strconv.Itoa(m.nextID)
	incident.Version = 1
	incident.CreatedAt = time.Now()
	m.incidents[incident.ID] = incident
	return nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*domain.Incident, error) {
	if incident, ok := m.incidents[id]; ok {
		copied := *incident
		return &copied, nil
	}
	return nil, ErrIncidentNotFound
}

func (m *mockRepository) List(_ context.Context, _ Filter) ([]domain.Incident, error) {
	result := make([]domain.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		result = append(result, *incident)
	}
	return result, nil
}

func (m *mockRepository) Update(_ context.Context, incident *domain.Incident) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	stored, ok := m.incidents[incident.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	if stored.Version != incident.Version {
		return domain.NewConflictError("incident", incident.ID)
	}
	incident.Version++
	copied := *incident
	m.incidents[incident.ID] = &copied
	return nil
}

func (m *mockRepository) AppendTimeline(_ context.Context, incidentID string, entry *domain.TimelineEntry) error {
	entry.ID = "tl-" + strconv.Itoa(len(m.timelines[incidentID])+1)
	m.timelines[incidentID] = append(m.timelines[incidentID], *entry)
	return nil
}

func (m *mockRepository) ListTimeline(_ context.Context, incidentID string) ([]domain.TimelineEntry, error) {
	return m.timelines[incidentID], nil
}

// capturingSink implements sink.Publisher for testing.
type capturingSink struct {
	events []sink.Event
}

func (c *capturingSink) Publish(event sink.Event) {
	c.events = append(c.events, event)
}

func (c *capturingSink) kinds() []sink.EventKind {
	kinds := make([]sink.EventKind, 0, len(c.events))
	for _, e := range c.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func newIncident(t *testing.T, service *Service, severity domain.IncidentSeverity) *domain.Incident {
	t.Helper()
	incident, err := service.Create(context.Background(), CreateInput{
		ServiceID:       "svc-1",
		Title:           "credential stuffing attack",
		Category:        domain.CategoryUnauthorizedAccess,
		Severity:        severity,
		DetectionSource: "waf alerts",
	})
	require.NoError(t, err)
	return incident
}

func TestCreate_DeadlineFromSeverity(t *testing.T) {
	cases := []struct {
		severity domain.IncidentSeverity
		offset   time.Duration
	}{
		{domain.SeverityCritical, time.Hour},
		{domain.SeverityHigh, 24 * time.Hour},
		{domain.SeverityModerate, 72 * time.Hour},
		{domain.SeverityLow, 168 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			repo := newMockRepository()
			service := NewService(repo, nil)

			detectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
			incident, err := service.Create(context.Background(), CreateInput{
				ServiceID:  "svc-1",
				Title:      "incident",
				Category:   domain.CategoryMalware,
				Severity:   tc.severity,
				DetectedAt: detectedAt,
			})

			require.NoError(t, err)
			assert.Equal(t, domain.ReportingPending, incident.Reporting)
			require.NotNil(t, incident.ReportDeadline)
			assert.Equal(t, detectedAt.Add(tc.offset), *incident.ReportDeadline)
		})
	}
}

func TestCreate_InformationalHasNoReportingObligation(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)

	incident := newIncident(t, service, domain.SeverityInformational)

	assert.Equal(t, domain.ReportingNotRequired, incident.Reporting)
	assert.Nil(t, incident.ReportDeadline)
}

func TestCreate_AppendsInitialTimelineEntry(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)

	incident := newIncident(t, service, domain.SeverityHigh)

	entries := repo.timelines[incident.ID]
	require.Len(t, entries, 1)
	assert.Equal(t, "detected", entries[0].EventKind)
	assert.Equal(t, domain.IncidentDetected, entries[0].Status)
}

func TestCloseRequiresTerminalReporting(t *testing.T) {
	repo := newMockRepository()
	events := &capturingSink{}
	service := NewService(repo, events)
	incident := newIncident(t, service, domain.SeverityHigh)
	ctx := context.Background()

	// Walk to recovered.
	_, err := service.BeginAnalysis(ctx, incident.ID)
	require.NoError(t, err)
	_, err = service.RecordContainment(ctx, incident.ID, "blocked source ranges")
	require.NoError(t, err)
	_, err = service.BeginEradication(ctx, incident.ID)
	require.NoError(t, err)
	_, err = service.RecordEradication(ctx, incident.ID, "rotated credentials")
	require.NoError(t, err)
	_, err = service.RecordRecovery(ctx, incident.ID, "")
	require.NoError(t, err)

	// Reporting is still pending, so close must fail.
	_, err = service.Close(ctx, incident.ID)
	var perr *domain.PreconditionError
	require.ErrorAs(t, err, &perr)

	// Submit and finalize the external report, then close succeeds.
	_, err = service.SubmitReport(ctx, incident.ID, "CASE-4711")
	require.NoError(t, err)
	_, err = service.FinalizeReport(ctx, incident.ID)
	require.NoError(t, err)

	closed, err := service.Close(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentClosed, closed.Status)
	require.NotNil(t, closed.Milestones.ClosedAt)

	assert.Equal(t, []sink.EventKind{
		sink.EventIncidentAnalysisStarted,
		sink.EventIncidentContained,
		sink.EventIncidentEradicated,
		sink.EventIncidentRecovered,
		sink.EventIncidentReportSubmitted,
		sink.EventIncidentClosed,
	}, events.kinds())
}

func TestBeginEradication_RequiresContainment(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	incident := newIncident(t, service, domain.SeverityModerate)

	_, err := service.BeginEradication(context.Background(), incident.ID)

	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}

func TestRecordContainment_LegalFromDetected(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	incident := newIncident(t, service, domain.SeverityModerate)

	contained, err := service.RecordContainment(context.Background(), incident.ID, "")

	require.NoError(t, err)
	assert.Equal(t, domain.IncidentContained, contained.Status)
	require.NotNil(t, contained.Milestones.ContainedAt)
}

func TestUpdateSeverity_RecomputesWhilePending(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)

	detectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	incident, err := service.Create(context.Background(), CreateInput{
		ServiceID:  "svc-1",
		Title:      "incident",
		Category:   domain.CategoryPhishing,
		Severity:   domain.SeverityLow,
		DetectedAt: detectedAt,
	})
	require.NoError(t, err)

	updated, err := service.UpdateSeverity(context.Background(), incident.ID, domain.SeverityCritical)

	require.NoError(t, err)
	require.NotNil(t, updated.ReportDeadline)
	assert.Equal(t, detectedAt.Add(time.Hour), *updated.ReportDeadline)
}

func TestUpdateSeverity_KeepsDeadlineOnceReported(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)

	detectedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	incident, err := service.Create(context.Background(), CreateInput{
		ServiceID:  "svc-1",
		Title:      "incident",
		Category:   domain.CategoryPhishing,
		Severity:   domain.SeverityHigh,
		DetectedAt: detectedAt,
	})
	require.NoError(t, err)

	_, err = service.SubmitReport(context.Background(), incident.ID, "CASE-1")
	require.NoError(t, err)

	updated, err := service.UpdateSeverity(context.Background(), incident.ID, domain.SeverityCritical)

	require.NoError(t, err)
	require.NotNil(t, updated.ReportDeadline)
	assert.Equal(t, detectedAt.Add(24*time.Hour), *updated.ReportDeadline,
		"an already-reported incident keeps its original deadline")
}

func TestSubmitReport_FromPendingAndUpdateRequired(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	incident := newIncident(t, service, domain.SeverityCritical)
	ctx := context.Background()

	submitted, err := service.SubmitReport(ctx, incident.ID, "CASE-9")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportingSubmitted, submitted.Reporting)
	require.NotNil(t, submitted.ReportCaseNo)
	assert.Equal(t, "CASE-9", *submitted.ReportCaseNo)

	_, err = service.RequireReportUpdate(ctx, incident.ID, "regulator requested detail")
	require.NoError(t, err)

	resubmitted, err := service.SubmitReport(ctx, incident.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportingUpdateSubmitted, resubmitted.Reporting)
}

func TestSubmitReport_NotRequiredFails(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	incident := newIncident(t, service, domain.SeverityInformational)

	_, err := service.SubmitReport(context.Background(), incident.ID, "CASE-1")

	var perr *domain.PreconditionError
	assert.ErrorAs(t, err, &perr)
}

func TestTransitionsAppendSelfDescribingTimeline(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	incident := newIncident(t, service, domain.SeverityModerate)
	ctx := context.Background()

	_, err := service.BeginAnalysis(ctx, incident.ID)
	require.NoError(t, err)
	_, err = service.RecordContainment(ctx, incident.ID, "isolated host")
	require.NoError(t, err)

	entries := repo.timelines[incident.ID]
	require.Len(t, entries, 3)
	assert.Equal(t, domain.IncidentAnalyzing, entries[1].Status)
	assert.Equal(t, "contained", entries[2].EventKind)
	assert.Equal(t, domain.IncidentContained, entries[2].Status)
	assert.Equal(t, "isolated host", entries[2].Detail)
}

func TestConcurrentTransitionConflict(t *testing.T) {
	repo := newMockRepository()
	service := NewService(repo, nil)
	incident := newIncident(t, service, domain.SeverityHigh)

	// A concurrent writer bumps the version between load and save.
	repo.beforeUpdate = func() {
		repo.incidents[incident.ID].Version++
	}

	_, err := service.BeginAnalysis(context.Background(), incident.ID)

	var cerr *domain.ConflictError
	assert.ErrorAs(t, err, &cerr)
}
