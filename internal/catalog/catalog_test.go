package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/indicators"
)

const sampleCatalogue = `
version: "2026.2"
indicators:
  - reference: KSI-CNA-01
    category: cloud_native_architecture
    name: Network traffic restricted to required flows
    description: All ingress and egress is denied by default.
    applicability:
      low: true
      moderate: true
      high: true
    validation_mode: automated
  - reference: KSI-IAM-03
    category: identity_and_access
    name: Phishing-resistant MFA enforced
    applicability:
      moderate: true
      high: true
    validation_mode: hybrid
  - reference: KSI-PIY-02
    category: policy_and_inventory
    name: Asset inventory reviewed
`

func TestParse(t *testing.T) {
	catalogue, err := Parse([]byte(sampleCatalogue))

	require.NoError(t, err)
	assert.Equal(t, "2026.2", catalogue.Version)
	require.Len(t, catalogue.Indicators, 3)
	assert.Equal(t, "KSI-CNA-01", catalogue.Indicators[0].Reference)
	assert.True(t, catalogue.Indicators[0].Applicability.Low)
	assert.False(t, catalogue.Indicators[1].Applicability.Low)
	assert.Equal(t, "hybrid", catalogue.Indicators[1].ValidationMode)
	assert.Empty(t, catalogue.Indicators[2].ValidationMode)
}

func TestParse_DuplicateReference(t *testing.T) {
	_, err := Parse([]byte(`
indicators:
  - reference: KSI-CNA-01
  - reference: KSI-CNA-01
`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate reference")
}

func TestParse_UnknownValidationMode(t *testing.T) {
	_, err := Parse([]byte(`
indicators:
  - reference: KSI-CNA-01
    validation_mode: telepathic
`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}

// mockLedger implements Ledger for testing.
type mockLedger struct {
	existing map[string]bool
	created  []indicators.CreateInput
}

func (m *mockLedger) GetByReference(_ context.Context, _, reference string) (*domain.Indicator, error) {
	if m.existing[reference] {
		return &domain.Indicator{Reference: reference}, nil
	}
	return nil, domain.NewNotFoundError("indicator", reference)
}

func (m *mockLedger) Create(_ context.Context, input indicators.CreateInput) (*domain.Indicator, error) {
	m.created = append(m.created, input)
	return &domain.Indicator{Reference: input.Reference}, nil
}

func TestImport_CreateIfAbsent(t *testing.T) {
	catalogue, err := Parse([]byte(sampleCatalogue))
	require.NoError(t, err)

	ledger := &mockLedger{existing: map[string]bool{"KSI-IAM-03": true}}
	importer := NewImporter(ledger)

	result, err := importer.Import(context.Background(), "svc-1", catalogue)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, ledger.created, 2)
	assert.Equal(t, "KSI-CNA-01", ledger.created[0].Reference)
	assert.Equal(t, domain.ValidationModeAutomated, ledger.created[0].ValidationMode)
	assert.Equal(t, domain.ValidationModeNotValidated, ledger.created[1].ValidationMode,
		"entries without a mode default to not validated")
}

func TestImport_Rerun(t *testing.T) {
	catalogue, err := Parse([]byte(sampleCatalogue))
	require.NoError(t, err)

	ledger := &mockLedger{existing: map[string]bool{}}
	importer := NewImporter(ledger)
	ctx := context.Background()

	first, err := importer.Import(ctx, "svc-1", catalogue)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	for _, input := range ledger.created {
		ledger.existing[input.Reference] = true
	}

	second, err := importer.Import(ctx, "svc-1", catalogue)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 3, second.Skipped)
}
