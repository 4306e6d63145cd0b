package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
	"github.com/bracken-sec/conmon/internal/evidence"
)

// EvidenceFreshnessExecutor checks that evidence artifacts exist and are
// younger than the configured maximum age.
type EvidenceFreshnessExecutor struct {
	store evidence.Store
}

// NewEvidenceFreshnessExecutor creates an evidence freshness executor.
func NewEvidenceFreshnessExecutor(store evidence.Store) *EvidenceFreshnessExecutor {
	return &EvidenceFreshnessExecutor{store: store}
}

// Kind returns the check kind this executor handles.
func (e *EvidenceFreshnessExecutor) Kind() domain.CheckKind {
	return domain.CheckKindEvidenceFreshness
}

// Execute resolves each configured evidence identifier. Missing or stale
// evidence fails the check; a store outage is an execution error.
func (e *EvidenceFreshnessExecutor) Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error) {
	cfg := rule.Config.EvidenceFreshness
	if cfg == nil {
		return nil, fmt.Errorf("rule %s has no evidence_freshness config", rule.ID)
	}
	if e.store == nil {
		return nil, errors.New("no evidence store configured")
	}

	now := time.Now().UTC()
	var findings []domain.Finding
	for _, id := range cfg.EvidenceIDs {
		meta, err := e.store.Head(ctx, id)
		if err != nil {
			if errors.Is(err, evidence.ErrNotFound) {
				findings = append(findings, domain.Finding{
					Severity:    domain.FindingHigh,
					Title:       "evidence missing",
					Detail:      fmt.Sprintf("evidence %s does not resolve", id),
					ResourceRef: id,
				})
				continue
			}
			return nil, fmt.Errorf("resolve evidence %s: %w", id, err)
		}
		if age := now.Sub(meta.LastModified); age > cfg.MaxAge {
			findings = append(findings, domain.Finding{
				Severity:    domain.FindingModerate,
				Title:       "evidence stale",
				Detail:      fmt.Sprintf("evidence %s is %s old, max age %s", id, age.Round(time.Minute), cfg.MaxAge),
				ResourceRef: id,
			})
		}
	}

	if len(findings) > 0 {
		return &Result{
			Passed:   false,
			Detail:   fmt.Sprintf("%d of %d evidence artifacts missing or stale", len(findings), len(cfg.EvidenceIDs)),
			Findings: findings,
		}, nil
	}
	return &Result{
		Passed:      true,
		Detail:      fmt.Sprintf("all %d evidence artifacts fresh", len(cfg.EvidenceIDs)),
		EvidenceIDs: cfg.EvidenceIDs,
	}, nil
}
