package sandbox

import (
	"strings"
	"testing"
)

func TestCheckBlockedModules(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"import ctypes", "import ctypes\nprint(1)", "ctypes"},
		{"from multiprocessing", "from multiprocessing import Pool", "multiprocessing"},
		{"import signal", "import signal", "signal"},
		{"thread module", "import _thread", "_thread"},
		{"submodule", "import ctypes.util", "ctypes"},
		{"aliased", "import ctypes as c", "ctypes"},
		{"comma list", "import os, ctypes", "ctypes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.code)
			if res.Allowed {
				t.Fatal("expected block")
			}
			if res.Reason != "Blocked module: "+tt.want {
				t.Errorf("reason = %q", res.Reason)
			}
		})
	}
}

func TestCheckAllowsSafeCode(t *testing.T) {
	res := Check("import math\nprint(math.pi)")
	if !res.Allowed {
		t.Fatalf("blocked: %s", res.Reason)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestCheckWarnsOnDangerousCalls(t *testing.T) {
	res := Check("import os\nos.system('ls')\neval('1+1')")
	if !res.Allowed {
		t.Fatalf("blocked: %s", res.Reason)
	}
	joined := strings.Join(res.Warnings, "; ")
	if !strings.Contains(joined, "os.system") {
		t.Errorf("missing os.system warning: %v", res.Warnings)
	}
	if !strings.Contains(joined, "eval") {
		t.Errorf("missing eval warning: %v", res.Warnings)
	}
}

func TestCheckSubstringNotBlocked(t *testing.T) {
	// "signals" as a variable is not the signal module.
	res := Check("signals = [1, 2]\nprint(signals)")
	if !res.Allowed {
		t.Fatalf("false positive: %s", res.Reason)
	}
}

func TestCheckEmptyCode(t *testing.T) {
	if res := Check("   \n  "); res.Allowed {
		t.Fatal("empty code should not be allowed")
	}
}

func TestTruncate(t *testing.T) {
	m := &Manager{}
	long := strings.Repeat("a", 70*1024)
	got, _ := m.truncate(long)
	if len(got) >= len(long) {
		t.Error("not truncated")
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Error("missing truncation marker")
	}
	if short, _ := m.truncate("hello"); short != "hello" {
		t.Errorf("short output altered: %q", short)
	}
}
