package paths

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidAgentName(t *testing.T) {
	valid := []string{"ana", "bill", "ralph", "code-review", "nightly_sync", "a", "x2"}
	for _, name := range valid {
		if !ValidAgentName(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}

	invalid := []string{"", "Ana", "2fast", "-lead", "agent name", "a/b", string(make([]byte, 70))}
	for _, name := range invalid {
		if ValidAgentName(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestValidSessionName(t *testing.T) {
	valid := []string{"agent-ana", "agent-bill-2", "agent-ralph-ziggy", "agent-code_review-x1"}
	for _, name := range valid {
		if !ValidSessionName(name) {
			t.Errorf("expected %q to be valid", name)
		}
	}

	invalid := []string{"ana", "agent-", "agent-Ana", "agent-bill-", "communicator", "agent-bill; rm -rf /"}
	for _, name := range invalid {
		if ValidSessionName(name) {
			t.Errorf("expected %q to be invalid", name)
		}
	}
}

func TestIsRalphSession(t *testing.T) {
	if !IsRalphSession("agent-ralph-ziggy") {
		t.Error("expected agent-ralph-ziggy to be a ralph session")
	}
	if IsRalphSession("agent-ana") {
		t.Error("expected agent-ana not to be a ralph session")
	}
	if IsRalphSession("agent-ralph") {
		t.Error("bare agent-ralph is a core session, not a labelled instance")
	}
}

func TestValidSessionLabel(t *testing.T) {
	valid := []string{"nolan", "My Project", "build-42", "a_b"}
	for _, label := range valid {
		if !ValidSessionLabel(label) {
			t.Errorf("expected %q to be valid", label)
		}
	}

	invalid := []string{"", "has/slash", "emoji✓", "0123456789012345678901234567890"}
	for _, label := range invalid {
		if ValidSessionLabel(label) {
			t.Errorf("expected %q to be invalid", label)
		}
	}
}

func TestResolverLayout(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	if r.AgentConfigPath("ana") != filepath.Join(root, "agents", "ana", "agent.yaml") {
		t.Errorf("unexpected agent config path: %s", r.AgentConfigPath("ana"))
	}
	if r.TeamConfigPath("alpha") != filepath.Join(root, "teams", "alpha", "team.yaml") {
		t.Errorf("unexpected team config path: %s", r.TeamConfigPath("alpha"))
	}
	if r.SchedulesPath() != filepath.Join(root, ".state", "schedules.yaml") {
		t.Errorf("unexpected schedules path: %s", r.SchedulesPath())
	}
	if r.PasswordPath() != filepath.Join(root, "server-password") {
		t.Errorf("unexpected password path: %s", r.PasswordPath())
	}

	at := time.Date(2026, 7, 30, 14, 5, 9, 0, time.UTC)
	want := filepath.Join(root, "cronos", "runs", "2026-07-30", "ana-140509.log")
	if got := r.RunLogPath("ana", at); got != want {
		t.Errorf("RunLogPath = %s, want %s", got, want)
	}
}

func TestNewResolverCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := NewResolver(root); err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("expected data root to exist: %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "file.json")
	if err := WriteFileAtomic(path, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}

	data, _ := os.ReadFile(path)
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected content: %s", data)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the final file, found %d entries", len(entries))
	}
}
