package version

import (
	"strings"
	"testing"
)

// withVersionVars temporarily sets version variables and restores them after the test.
func withVersionVars(t *testing.T, v, commit, date string, fn func()) {
	t.Helper()
	origVersion, origCommit, origDate := version, gitCommit, buildDate
	defer func() {
		version, gitCommit, buildDate = origVersion, origCommit, origDate
	}()
	version, gitCommit, buildDate = v, commit, date
	fn()
}

func TestVersion(t *testing.T) {
	if v := Version(); v == "" {
		t.Error("Version() returned empty string")
	}
}

func TestVersion_NonDev(t *testing.T) {
	withVersionVars(t, "1.0.0", "", "", func() {
		if v := Version(); v != "1.0.0" {
			t.Errorf("Expected '1.0.0', got '%s'", v)
		}
	})
}

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.Contains(info, "ringlet version") {
		t.Errorf("Info() should contain 'ringlet version', got: %s", info)
	}
}

func TestInfo_WithLdflags(t *testing.T) {
	withVersionVars(t, "2.0.0", "def456", "2024-06-15", func() {
		info := Info()
		for _, want := range []string{"2.0.0", "def456", "2024-06-15"} {
			if !strings.Contains(info, want) {
				t.Errorf("Version info should contain '%s', got: %s", want, info)
			}
		}
	})
}

func TestBuildInfo(t *testing.T) {
	attrs := BuildInfo()
	if len(attrs) < 2 {
		t.Error("BuildInfo() should return at least the version key-value pair")
	}
	if attrs[0] != "version" {
		t.Errorf("First attribute should be 'version', got: %v", attrs[0])
	}
}

func TestBuildInfo_WithLdflags(t *testing.T) {
	withVersionVars(t, "1.2.3", "abc123", "2024-01-01", func() {
		attrs := BuildInfo()
		attrMap := make(map[string]any)
		for i := 0; i < len(attrs); i += 2 {
			attrMap[attrs[i].(string)] = attrs[i+1]
		}

		expected := map[string]any{"version": "1.2.3", "commit": "abc123", "built": "2024-01-01"}
		for k, want := range expected {
			if got := attrMap[k]; got != want {
				t.Errorf("%s should be '%v', got: %v", k, want, got)
			}
		}
	})
}

func TestCommitFromBuildInfo(t *testing.T) {
	// Returns whatever the test binary's build info contains; must not panic.
	_ = commitFromBuildInfo()
}

func TestIsDirtyFromBuildInfo(t *testing.T) {
	_ = isDirtyFromBuildInfo()
}
