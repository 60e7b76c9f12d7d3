package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/sandbox"
)

// PythonExecutorTool runs LLM-written Python inside the Docker sandbox.
type PythonExecutorTool struct {
	manager *sandbox.Manager
}

func NewPythonExecutorTool(manager *sandbox.Manager) *PythonExecutorTool {
	return &PythonExecutorTool{manager: manager}
}

func (t *PythonExecutorTool) Name() string { return "python_executor" }

func (t *PythonExecutorTool) Description() string {
	return "Execute Python code in an isolated Docker sandbox and return stdout/stderr. " +
		"Pre-installed packages: numpy, pandas, matplotlib, sympy, scipy, requests. " +
		"Use for: mathematical computation, data analysis, chart generation, " +
		"algorithm verification, or any task that benefits from running real code. " +
		"The code's standard output will be captured and returned as the result."
}

func (t *PythonExecutorTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Python source code to execute",
			},
			"install_packages": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Extra pip packages to install before running (optional). Only use this for packages not already pre-installed.",
			},
			"timeout": map[string]interface{}{
				"type":        "number",
				"description": "Execution timeout in seconds (default 30, max 120)",
			},
			"network": map[string]interface{}{
				"type":        "boolean",
				"description": "Allow network access for this run (default false; implied by install_packages)",
			},
		},
		"required": []string{"code"},
	}
}

func (t *PythonExecutorTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return ErrorResult("code is required")
	}

	req := sandbox.ExecutionRequest{Code: code}
	if timeout, ok := args["timeout"].(float64); ok && timeout > 0 {
		req.TimeoutSec = int(timeout)
	}
	if network, ok := args["network"].(bool); ok {
		req.Network = network
	}
	if raw, ok := args["install_packages"].([]interface{}); ok {
		for _, v := range raw {
			if pkg, ok := v.(string); ok && pkg != "" {
				req.PipPackages = append(req.PipPackages, pkg)
			}
		}
	}

	result := t.manager.Execute(ctx, req)
	return t.format(result)
}

// format renders the execution result as a single text block for the LLM.
func (t *PythonExecutorTool) format(res *sandbox.ExecutionResult) *Result {
	switch res.Status {
	case sandbox.StatusSecurityBlocked:
		return ErrorResult(fmt.Sprintf("Security check failed: %s", res.Stderr))
	case sandbox.StatusTimeout:
		return ErrorResult(res.Stderr + ". Consider optimising your code or increasing the timeout.")
	}

	var parts []string
	if res.Stdout != "" {
		parts = append(parts, "STDOUT:\n"+res.Stdout)
	}
	if res.Stderr != "" {
		label := "WARNINGS"
		if res.ExitCode != 0 {
			label = "STDERR"
		}
		parts = append(parts, label+":\n"+res.Stderr)
	}
	if res.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("Exit code: %d", res.ExitCode))
	}
	if len(parts) == 0 {
		parts = append(parts, "(no output)")
	}
	if res.Truncated {
		parts = append(parts, "Note: output exceeded the size limit and was truncated.")
	}
	for _, w := range res.Warnings {
		parts = append(parts, "Warning: "+w)
	}
	parts = append(parts, fmt.Sprintf("Execution time: %.2fs", res.Duration.Seconds()))

	out := strings.Join(parts, "\n\n")
	if res.Status == sandbox.StatusError {
		return ErrorResult(out)
	}
	return NewResult(out)
}
