package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/indicators"
	"github.com/bracken-sec/conmon/internal/pkg/ctxlog"
)

// Ledger is the narrow indicator-ledger surface the importer needs.
// Implemented by indicators.Service.
type Ledger interface {
	GetByReference(ctx context.Context, serviceID, reference string) (*domain.Indicator, error)
	Create(ctx context.Context, input indicators.CreateInput) (*domain.Indicator, error)
}

// ImportResult summarizes one catalogue import run.
type ImportResult struct {
	Created int
	Skipped int
}

// Importer seeds a service's indicator records from a catalogue.
type Importer struct {
	ledger Ledger
}

// NewImporter creates a catalogue importer.
func NewImporter(ledger Ledger) *Importer {
	return &Importer{ledger: ledger}
}

// Import creates one indicator record per catalogue entry that the service
// does not already track. Existing records are left untouched.
func (i *Importer) Import(ctx context.Context, serviceID string, catalogue *Catalogue) (ImportResult, error) {
	var result ImportResult
	for _, entry := range catalogue.Indicators {
		_, err := i.ledger.GetByReference(ctx, serviceID, entry.Reference)
		if err == nil {
			result.Skipped++
			continue
		}
		var nfe *domain.NotFoundError
		if !errors.As(err, &nfe) {
			return result, fmt.Errorf("look up indicator %s: %w", entry.Reference, err)
		}

		mode := domain.ValidationMode(entry.ValidationMode)
		if entry.ValidationMode == "" {
			mode = domain.ValidationModeNotValidated
		}
		_, err = i.ledger.Create(ctx, indicators.CreateInput{
			ServiceID:   serviceID,
			Reference:   entry.Reference,
			Category:    entry.Category,
			Name:        entry.Name,
			Description: entry.Description,
			Applicability: domain.Applicability{
				Low:      entry.Applicability.Low,
				Moderate: entry.Applicability.Moderate,
				High:     entry.Applicability.High,
			},
			ValidationMode: mode,
		})
		if err != nil {
			return result, fmt.Errorf("seed indicator %s: %w", entry.Reference, err)
		}
		result.Created++
	}

	ctxlog.FromContext(ctx).Info("catalogue imported",
		"service_id", serviceID,
		"version", catalogue.Version,
		"created", result.Created,
		"skipped", result.Skipped,
	)

	return result, nil
}
