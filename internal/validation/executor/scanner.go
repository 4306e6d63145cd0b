package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bracken-sec/conmon/internal/domain"
)

// ScannerExecutor triggers an external vulnerability scanner and evaluates
// the returned findings against the rule's severity ceilings.
type ScannerExecutor struct {
	client *http.Client
}

// NewScannerExecutor creates a scanner executor. A nil client uses the
// package default.
func NewScannerExecutor(client *http.Client) *ScannerExecutor {
	if client == nil {
		client = defaultHTTPClient
	}
	return &ScannerExecutor{client: client}
}

// Kind returns the check kind this executor handles.
func (e *ScannerExecutor) Kind() domain.CheckKind {
	return domain.CheckKindScanner
}

type scanRequest struct {
	Profile      string `json:"profile,omitempty"`
	TargetsQuery string `json:"targets_query,omitempty"`
}

type scanResponse struct {
	ScanID   string `json:"scan_id"`
	Findings []struct {
		Severity string `json:"severity"`
		Title    string `json:"title"`
		Detail   string `json:"detail"`
		Resource string `json:"resource"`
	} `json:"findings"`
}

// Execute runs a scan and fails the check when critical or high findings
// exceed the configured ceilings.
func (e *ScannerExecutor) Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error) {
	cfg := rule.Config.Scanner
	if cfg == nil {
		return nil, fmt.Errorf("rule %s has no scanner config", rule.ID)
	}

	body, err := json.Marshal(scanRequest{Profile: cfg.ScanProfile, TargetsQuery: cfg.TargetsQuery})
	if err != nil {
		return nil, fmt.Errorf("marshal scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call scanner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scanner returned status %d", resp.StatusCode)
	}

	var scan scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&scan); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}

	var critical, high int
	findings := make([]domain.Finding, 0, len(scan.Findings))
	for _, f := range scan.Findings {
		severity := domain.FindingSeverity(f.Severity)
		switch severity {
		case domain.FindingCritical:
			critical++
		case domain.FindingHigh:
			high++
		}
		findings = append(findings, domain.Finding{
			Severity:    severity,
			Title:       f.Title,
			Detail:      f.Detail,
			ResourceRef: f.Resource,
		})
	}

	passed := critical <= cfg.MaxCritical && high <= cfg.MaxHigh
	result := &Result{
		Passed:   passed,
		Detail:   fmt.Sprintf("scan %s: %d critical, %d high findings", scan.ScanID, critical, high),
		Findings: findings,
	}
	if scan.ScanID != "" {
		result.EvidenceIDs = []string{scan.ScanID}
	}
	return result, nil
}
