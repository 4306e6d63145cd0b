package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bracken-sec/conmon/internal/domain"
)

// ScriptExecutor runs a custom check script. Exit code zero is a pass,
// non-zero a fail; anything else is an execution error.
type ScriptExecutor struct{}

// NewScriptExecutor creates a script executor.
func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

// Kind returns the check kind this executor handles.
func (e *ScriptExecutor) Kind() domain.CheckKind {
	return domain.CheckKindScript
}

// Execute runs the configured command under the caller's context deadline.
func (e *ScriptExecutor) Execute(ctx context.Context, rule *domain.CheckDefinition) (*Result, error) {
	cfg := rule.Config.Script
	if cfg == nil {
		return nil, fmt.Errorf("rule %s has no script config", rule.ID)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cfg.WorkDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	detail := strings.TrimSpace(out.String())
	if len(detail) > 4096 {
		detail = detail[:4096]
	}

	if err == nil {
		return &Result{Passed: true, Detail: detail}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return &Result{
			Passed: false,
			Detail: detail,
			Findings: []domain.Finding{{
				Severity: domain.FindingModerate,
				Title:    "check script reported failure",
				Detail:   fmt.Sprintf("exit code %d", exitErr.ExitCode()),
			}},
		}, nil
	}
	return nil, fmt.Errorf("run check script: %w", err)
}
