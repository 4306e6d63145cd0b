// Package executor runs kind-specific automated checks against external
// systems. Executors distinguish "ran and reported failure" (a Result with
// Passed=false) from "could not complete" (an error).
package executor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bracken-sec/conmon/internal/domain"
)

// Result is the outcome of one completed check run.
type Result struct {
	Passed      bool
	Detail      string
	Findings    []domain.Finding
	EvidenceIDs []string
}

// Executor runs checks of one kind.
type Executor interface {
	Kind() domain.CheckKind
	Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error)
}

// Registry maps check kinds to executors.
type Registry struct {
	executors map[domain.CheckKind]Executor
}

// NewRegistry creates a registry over the given executors.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[domain.CheckKind]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Kind()] = e
	}
	return r
}

// Register adds or replaces the executor for its kind.
func (r *Registry) Register(e Executor) {
	r.executors[e.Kind()] = e
}

// For returns the executor for a kind.
func (r *Registry) For(kind domain.CheckKind) (Executor, error) {
	e, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for kind %s", kind)
	}
	return e, nil
}

// defaultHTTPClient is shared by the HTTP-backed executors. Per-run deadlines
// come from the caller's context; the client timeout is a backstop.
var defaultHTTPClient = &http.Client{Timeout: 2 * time.Minute}
