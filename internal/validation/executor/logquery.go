package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
)

// LogQueryExecutor runs a query against a log backend and fails the check
// when matches exceed the configured ceiling.
type LogQueryExecutor struct {
	client *http.Client
}

// NewLogQueryExecutor creates a log query executor. A nil client uses the
// package default.
func NewLogQueryExecutor(client *http.Client) *LogQueryExecutor {
	if client == nil {
		client = defaultHTTPClient
	}
	return &LogQueryExecutor{client: client}
}

// Kind returns the check kind this executor handles.
func (e *LogQueryExecutor) Kind() domain.CheckKind {
	return domain.CheckKindLogQuery
}

type logQueryRequest struct {
	Query string    `json:"query"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

type logQueryResponse struct {
	MatchCount int `json:"match_count"`
}

// Execute runs the query over the configured trailing window.
func (e *LogQueryExecutor) Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error) {
	cfg := rule.Config.LogQuery
	if cfg == nil {
		return nil, fmt.Errorf("rule %s has no log_query config", rule.ID)
	}

	window := cfg.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := time.Now().UTC()

	body, err := json.Marshal(logQueryRequest{Query: cfg.Query, From: now.Add(-window), To: now})
	if err != nil {
		return nil, fmt.Errorf("marshal log query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.QueryURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build log query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run log query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("log backend returned status %d", resp.StatusCode)
	}

	var result logQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode log query response: %w", err)
	}

	passed := result.MatchCount <= cfg.MaxMatches
	out := &Result{
		Passed: passed,
		Detail: fmt.Sprintf("%d matches in trailing %s (max %d)", result.MatchCount, window, cfg.MaxMatches),
	}
	if !passed {
		out.Findings = []domain.Finding{{
			Severity: domain.FindingHigh,
			Title:    "log query threshold exceeded",
			Detail:   out.Detail,
		}}
	}
	return out, nil
}
