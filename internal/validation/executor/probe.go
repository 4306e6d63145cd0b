package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bracken-sec/conmon/internal/domain"
)

// APIProbeExecutor performs an HTTP probe and checks status and body.
type APIProbeExecutor struct {
	client *http.Client
}

// NewAPIProbeExecutor creates an API probe executor. A nil client uses the
// package default.
func NewAPIProbeExecutor(client *http.Client) *APIProbeExecutor {
	if client == nil {
		client = defaultHTTPClient
	}
	return &APIProbeExecutor{client: client}
}

// Kind returns the check kind this executor handles.
func (e *APIProbeExecutor) Kind() domain.CheckKind {
	return domain.CheckKindAPIProbe
}

// Execute probes the configured URL. An unexpected status or a missing body
// substring is a failed check, not an execution error.
func (e *APIProbeExecutor) Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error) {
	cfg := rule.Config.APIProbe
	if cfg == nil {
		return nil, fmt.Errorf("rule %s has no api_probe config", rule.ID)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	expected := cfg.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	if resp.StatusCode != expected {
		return &Result{
			Passed: false,
			Detail: fmt.Sprintf("expected status %d, got %d", expected, resp.StatusCode),
		}, nil
	}

	if cfg.BodyContains != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read probe response: %w", err)
		}
		if !strings.Contains(string(body), cfg.BodyContains) {
			return &Result{
				Passed: false,
				Detail: fmt.Sprintf("response body does not contain %q", cfg.BodyContains),
			}, nil
		}
	}

	return &Result{Passed: true, Detail: fmt.Sprintf("probe %s returned %d", cfg.URL, resp.StatusCode)}, nil
}
