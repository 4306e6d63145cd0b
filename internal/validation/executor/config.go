package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bracken-sec/conmon/internal/domain"
)

// ConfigCheckExecutor fetches a JSON configuration document and compares
// expected values by dot-separated key path.
type ConfigCheckExecutor struct {
	client *http.Client
}

// NewConfigCheckExecutor creates a config check executor. A nil client uses
// the package default.
func NewConfigCheckExecutor(client *http.Client) *ConfigCheckExecutor {
	if client == nil {
		client = defaultHTTPClient
	}
	return &ConfigCheckExecutor{client: client}
}

// Kind returns the check kind this executor handles.
func (e *ConfigCheckExecutor) Kind() domain.CheckKind {
	return domain.CheckKindConfig
}

// Execute fetches the document and compares every expected key. A mismatch
// is a failed check with one finding per deviating key.
func (e *ConfigCheckExecutor) Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error) {
	cfg := rule.Config.Config
	if cfg == nil {
		return nil, fmt.Errorf("rule %s has no config check config", rule.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("config source returned status %d", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode config document: %w", err)
	}

	var findings []domain.Finding
	for path, expected := range cfg.Expected {
		actual, ok := lookupPath(doc, path)
		if !ok {
			findings = append(findings, domain.Finding{
				Severity: domain.FindingModerate,
				Title:    "missing configuration key",
				Detail:   fmt.Sprintf("key %s not present", path),
			})
			continue
		}
		if fmt.Sprint(actual) != expected {
			findings = append(findings, domain.Finding{
				Severity: domain.FindingModerate,
				Title:    "configuration deviation",
				Detail:   fmt.Sprintf("key %s: expected %q, got %q", path, expected, fmt.Sprint(actual)),
			})
		}
	}

	if len(findings) > 0 {
		return &Result{
			Passed:   false,
			Detail:   fmt.Sprintf("%d of %d configuration keys deviate", len(findings), len(cfg.Expected)),
			Findings: findings,
		}, nil
	}
	return &Result{Passed: true, Detail: fmt.Sprintf("all %d configuration keys match", len(cfg.Expected))}, nil
}

// lookupPath resolves a dot-separated path in a decoded JSON document.
func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
