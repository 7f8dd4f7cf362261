package session

import (
	"context"
	"testing"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// fakeMux implements Multiplexer in memory and records every command.
type fakeMux struct {
	sessions map[string]*SessionInfo
	inMode   map[string]bool
	sent     [][]string
	renames  []string
	killed   []string
	piped    []string
	renameErr error
}

func newFakeMux() *fakeMux {
	return &fakeMux{
		sessions: make(map[string]*SessionInfo),
		inMode:   make(map[string]bool),
	}
}

func (f *fakeMux) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	out := make([]SessionInfo, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeMux) HasSession(ctx context.Context, name string) (bool, error) {
	_, ok := f.sessions[name]
	return ok, nil
}

func (f *fakeMux) NewSession(ctx context.Context, name, workingDir, command string, env map[string]string) error {
	f.sessions[name] = &SessionInfo{Name: name, WindowTitle: name}
	return nil
}

func (f *fakeMux) KillSession(ctx context.Context, name string) error {
	f.killed = append(f.killed, name)
	delete(f.sessions, name)
	return nil
}

func (f *fakeMux) RenameWindow(ctx context.Context, name, title string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renames = append(f.renames, name+"="+title)
	if s, ok := f.sessions[name]; ok {
		s.WindowTitle = title
	}
	return nil
}

func (f *fakeMux) SendKeys(ctx context.Context, name string, keys []string) error {
	f.sent = append(f.sent, keys)
	return nil
}

func (f *fakeMux) PaneInMode(ctx context.Context, name string) (bool, error) {
	return f.inMode[name], nil
}

func (f *fakeMux) ResizeWindow(ctx context.Context, name string, cols, rows int) error {
	return nil
}

func (f *fakeMux) CapturePane(ctx context.Context, name string) (string, error) {
	return "", nil
}

func (f *fakeMux) PipePane(ctx context.Context, name, shellCommand string) error {
	f.piped = append(f.piped, name)
	return nil
}

func testSupervisor(t *testing.T) (*Supervisor, *fakeMux) {
	t.Helper()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	mux := newFakeMux()
	return NewSupervisor(mux, t.TempDir(), log), mux
}

func TestKillProtectedSession(t *testing.T) {
	sup, mux := testSupervisor(t)
	mux.sessions["communicator"] = &SessionInfo{Name: "communicator"}

	err := sup.Kill(context.Background(), "communicator")
	if !apperrors.IsProtected(err) {
		t.Fatalf("expected Protected error, got %v", err)
	}
	// The multiplexer must receive no command
	if len(mux.killed) != 0 {
		t.Errorf("multiplexer received kill for protected session")
	}
	if _, ok := mux.sessions["communicator"]; !ok {
		t.Error("protected session was removed")
	}
}

func TestKillNotFound(t *testing.T) {
	sup, _ := testSupervisor(t)
	err := sup.Kill(context.Background(), "agent-ghost")
	if !apperrors.IsNotFound(err) {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestCreateValidatesName(t *testing.T) {
	sup, _ := testSupervisor(t)
	err := sup.Create(context.Background(), "Not A Session", "", "", nil)
	if err == nil || apperrors.GetHTTPStatus(err) != 400 {
		t.Fatalf("expected Invalid error, got %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	sup, mux := testSupervisor(t)
	mux.sessions["agent-ana"] = &SessionInfo{Name: "agent-ana"}

	err := sup.Create(context.Background(), "agent-ana", "", "", nil)
	if err == nil || apperrors.GetHTTPStatus(err) != 409 {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestCreateThenKill(t *testing.T) {
	sup, mux := testSupervisor(t)
	ctx := context.Background()

	if err := sup.Create(ctx, "agent-ana", "claude", "/tmp", map[string]string{"K": "V"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, _ := sup.Exists(ctx, "agent-ana"); !ok {
		t.Fatal("expected session to exist")
	}
	if err := sup.Kill(ctx, "agent-ana"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if len(mux.killed) != 1 || mux.killed[0] != "agent-ana" {
		t.Errorf("unexpected kill log: %v", mux.killed)
	}
}

func TestKillRemovesLabel(t *testing.T) {
	sup, mux := testSupervisor(t)
	ctx := context.Background()
	mux.sessions["agent-ralph-ziggy"] = &SessionInfo{Name: "agent-ralph-ziggy"}

	if err := sup.SetLabel(ctx, "agent-ralph-ziggy", "nolan"); err != nil {
		t.Fatalf("set label: %v", err)
	}
	if err := sup.Kill(ctx, "agent-ralph-ziggy"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if sup.Labels().Get("agent-ralph-ziggy") != "" {
		t.Error("label survived the kill")
	}
}

func TestSetLabelRules(t *testing.T) {
	sup, mux := testSupervisor(t)
	ctx := context.Background()
	mux.sessions["agent-ralph-ziggy"] = &SessionInfo{Name: "agent-ralph-ziggy"}
	mux.sessions["agent-ana"] = &SessionInfo{Name: "agent-ana"}

	if err := sup.SetLabel(ctx, "agent-ana", "nope"); err == nil {
		t.Error("expected non-ralph label to be rejected")
	}
	if err := sup.SetLabel(ctx, "agent-ralph-ziggy", "this label is way way way over thirty characters"); err == nil {
		t.Error("expected long label to be rejected")
	}
	if err := sup.SetLabel(ctx, "agent-ralph-ziggy", "has/slash"); err == nil {
		t.Error("expected disallowed character to be rejected")
	}

	if err := sup.SetLabel(ctx, "agent-ralph-ziggy", "my project"); err != nil {
		t.Fatalf("set label: %v", err)
	}
	if got := sup.Labels().Get("agent-ralph-ziggy"); got != "my project" {
		t.Errorf("label = %q", got)
	}
	// Window title mirrors the label
	if mux.sessions["agent-ralph-ziggy"].WindowTitle != "ralph: my project" {
		t.Errorf("window title = %q", mux.sessions["agent-ralph-ziggy"].WindowTitle)
	}
}

func TestSetLabelSurvivesRenameFailure(t *testing.T) {
	sup, mux := testSupervisor(t)
	ctx := context.Background()
	mux.sessions["agent-ralph-nova"] = &SessionInfo{Name: "agent-ralph-nova"}
	mux.renameErr = &TmuxError{Op: "rename-window", Stderr: "no such window"}

	if err := sup.SetLabel(ctx, "agent-ralph-nova", "kept"); err != nil {
		t.Fatalf("rename failure must not propagate: %v", err)
	}
	if sup.Labels().Get("agent-ralph-nova") != "kept" {
		t.Error("label state must stay authoritative when the rename fails")
	}
}

func TestSendInputModes(t *testing.T) {
	sup, mux := testSupervisor(t)
	ctx := context.Background()
	mux.sessions["agent-ana"] = &SessionInfo{Name: "agent-ana"}

	if err := sup.SendInput(ctx, "agent-ana", "hello", InputLiteral); err != nil {
		t.Fatalf("literal: %v", err)
	}
	if err := sup.SendInput(ctx, "agent-ana", "Enter", InputKey); err != nil {
		t.Fatalf("key: %v", err)
	}
	if err := sup.SendInput(ctx, "agent-ana", "\x1b[A", InputRaw); err != nil {
		t.Fatalf("raw arrow: %v", err)
	}
	if err := sup.SendInput(ctx, "agent-ana", "\x1b[Zunknown", InputRaw); err != nil {
		t.Fatalf("raw fallthrough: %v", err)
	}

	want := [][]string{
		{"-l", "hello"},
		{"C-m"},
		{"Up"},
		{"-l", "\x1b[Zunknown"},
	}
	if len(mux.sent) != len(want) {
		t.Fatalf("sent %d commands, want %d: %v", len(mux.sent), len(want), mux.sent)
	}
	for i := range want {
		if len(mux.sent[i]) != len(want[i]) {
			t.Fatalf("command %d = %v, want %v", i, mux.sent[i], want[i])
		}
		for j := range want[i] {
			if mux.sent[i][j] != want[i][j] {
				t.Errorf("command %d = %v, want %v", i, mux.sent[i], want[i])
			}
		}
	}
}

func TestSendInputUnknownKey(t *testing.T) {
	sup, mux := testSupervisor(t)
	mux.sessions["agent-ana"] = &SessionInfo{Name: "agent-ana"}

	if err := sup.SendInput(context.Background(), "agent-ana", "SysRq", InputKey); err == nil {
		t.Error("expected unsupported key to be rejected")
	}
}

func TestSendInputExitsCopyMode(t *testing.T) {
	sup, mux := testSupervisor(t)
	mux.sessions["agent-ana"] = &SessionInfo{Name: "agent-ana"}
	mux.inMode["agent-ana"] = true

	if err := sup.SendInput(context.Background(), "agent-ana", "x", InputLiteral); err != nil {
		t.Fatalf("send: %v", err)
	}
	// First send is the copy-mode exit 'q', second is the payload
	if len(mux.sent) != 2 || mux.sent[0][0] != "q" {
		t.Errorf("expected copy-mode exit before payload, got %v", mux.sent)
	}
}

func TestClassifySession(t *testing.T) {
	cases := map[string]v1.SessionKind{
		"communicator":     v1.SessionKindInfrastructure,
		"history-log":      v1.SessionKindInfrastructure,
		"lifecycle":        v1.SessionKindInfrastructure,
		"agent-ana":        v1.SessionKindCore,
		"agent-bill-2":     v1.SessionKindSpawned,
		"agent-ralph-nova": v1.SessionKindRalph,
	}
	for name, want := range cases {
		if got := ClassifySession(name); got != want {
			t.Errorf("ClassifySession(%q) = %s, want %s", name, got, want)
		}
	}
}
