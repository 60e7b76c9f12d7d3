// Package sandbox executes untrusted Python snippets inside ephemeral
// Docker containers, after a static safety scan of the source.
package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// Modules that hard-block execution. These reach process or memory
// primitives the container limits cannot contain.
var blockedModules = []string{"ctypes", "multiprocessing", "signal", "_thread"}

// Call patterns that are allowed but flagged so the result carries a
// warning alongside the output.
var warnCallPatterns = []string{
	"os.system",
	"os.popen",
	"subprocess.run",
	"subprocess.call",
	"subprocess.Popen",
	"subprocess.check_output",
	"eval",
	"exec",
	"compile",
	"__import__",
	"shutil.rmtree",
}

// CheckResult is the outcome of the static scan.
type CheckResult struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var (
	importRe     = regexp.MustCompile(`(?m)^\s*import\s+([A-Za-z_][\w.]*(?:\s*,\s*[A-Za-z_][\w.]*)*)`)
	fromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
)

// Check scans Python source without executing it. A blocked module fails
// the check; dangerous call patterns only produce warnings.
func Check(code string) CheckResult {
	if strings.TrimSpace(code) == "" {
		return CheckResult{Reason: "empty code"}
	}

	modules := collectImports(code)
	for _, mod := range modules {
		root := strings.SplitN(mod, ".", 2)[0]
		for _, blocked := range blockedModules {
			if root == blocked {
				return CheckResult{Reason: fmt.Sprintf("Blocked module: %s", blocked)}
			}
		}
	}

	var warnings []string
	for _, pattern := range warnCallPatterns {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(pattern) + `\s*\(`)
		if re.MatchString(code) {
			warnings = append(warnings, fmt.Sprintf("Dangerous call: %s", pattern))
		}
	}

	return CheckResult{Allowed: true, Warnings: warnings}
}

func collectImports(code string) []string {
	var modules []string
	for _, m := range importRe.FindAllStringSubmatch(code, -1) {
		for _, part := range strings.Split(m[1], ",") {
			// Strip "as alias" suffixes.
			name := strings.Fields(strings.TrimSpace(part))
			if len(name) > 0 {
				modules = append(modules, name[0])
			}
		}
	}
	for _, m := range fromImportRe.FindAllStringSubmatch(code, -1) {
		modules = append(modules, m[1])
	}
	return modules
}
