package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// ProtectedSessions is the closed set of infrastructure sessions that must
// never be killed.
var ProtectedSessions = map[string]struct{}{
	"communicator": {},
	"history-log":  {},
	"lifecycle":    {},
}

// IsProtected reports whether name is an infrastructure session.
func IsProtected(name string) bool {
	_, ok := ProtectedSessions[name]
	return ok
}

// OutputPublisher receives session output lines keyed by session name.
// The executor's broadcaster satisfies it.
type OutputPublisher interface {
	Publish(key, line string)
}

// Supervisor owns live session identifiers and session labels. It is the
// sole path for creating and destroying supervised sessions.
type Supervisor struct {
	mux        Multiplexer
	labels     *LabelRegistry
	captureDir string
	publisher  OutputPublisher
	logger     *logger.Logger
}

// NewSupervisor creates a supervisor over the given multiplexer.
// captureDir holds per-session output capture files for streaming.
func NewSupervisor(mux Multiplexer, captureDir string, log *logger.Logger) *Supervisor {
	return &Supervisor{
		mux:        mux,
		labels:     NewLabelRegistry(),
		captureDir: captureDir,
		logger:     log.WithFields(zap.String("component", "session-supervisor")),
	}
}

// SetPublisher installs the output fabric session streams publish to.
func (s *Supervisor) SetPublisher(p OutputPublisher) {
	s.publisher = p
}

// Labels exposes the session-label registry.
func (s *Supervisor) Labels() *LabelRegistry {
	return s.labels
}

// List returns the current sessions with their kinds and labels. A cold
// multiplexer yields an empty list.
func (s *Supervisor) List(ctx context.Context) ([]v1.Session, error) {
	infos, err := s.mux.ListSessions(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list sessions", err).WithDetails(tmuxDetails(err))
	}

	sessions := make([]v1.Session, 0, len(infos))
	for _, info := range infos {
		sessions = append(sessions, v1.Session{
			Name:        info.Name,
			Kind:        ClassifySession(info.Name),
			Attached:    info.Attached,
			WindowTitle: info.WindowTitle,
			Label:       s.labels.Get(info.Name),
		})
	}
	return sessions, nil
}

// Exists checks whether a session is present.
func (s *Supervisor) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := s.mux.HasSession(ctx, name)
	if err != nil {
		return false, apperrors.InternalError("failed to check session", err).WithDetails(tmuxDetails(err))
	}
	return ok, nil
}

// Create creates a named session running initialCommand in workingDir.
func (s *Supervisor) Create(ctx context.Context, name, initialCommand, workingDir string, env map[string]string) error {
	if !paths.ValidSessionName(name) {
		return apperrors.Invalid("invalid session name: " + name)
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.AlreadyExists("session", name)
	}

	if err := s.mux.NewSession(ctx, name, workingDir, initialCommand, env); err != nil {
		return apperrors.SpawnFailed("failed to create session "+name, err).WithDetails(tmuxDetails(err))
	}

	s.logger.Info("session created",
		zap.String("session", name),
		zap.String("working_dir", workingDir))
	return nil
}

// Kill destroys a session and removes its label. Infrastructure sessions
// are refused before the multiplexer sees any command.
func (s *Supervisor) Kill(ctx context.Context, name string) error {
	if IsProtected(name) {
		return apperrors.Protected(name)
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("session", name)
	}

	if err := s.mux.KillSession(ctx, name); err != nil {
		return apperrors.InternalError("failed to kill session "+name, err).WithDetails(tmuxDetails(err))
	}

	s.labels.Remove(name)
	s.logger.Info("session killed", zap.String("session", name))
	return nil
}

// RenameWindow renames the session's window. Failure is logged, never
// propagated: label state stays authoritative even when the multiplexer
// refuses the rename.
func (s *Supervisor) RenameWindow(ctx context.Context, name, title string) {
	if err := s.mux.RenameWindow(ctx, name, title); err != nil {
		s.logger.Warn("window rename failed",
			zap.String("session", name),
			zap.String("title", title),
			zap.String("details", tmuxDetails(err)))
	}
}

// Resize resizes the session's window.
func (s *Supervisor) Resize(ctx context.Context, name string, cols, rows int) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("session", name)
	}
	if err := s.mux.ResizeWindow(ctx, name, cols, rows); err != nil {
		return apperrors.InternalError("failed to resize session "+name, err).WithDetails(tmuxDetails(err))
	}
	return nil
}

// Capture returns the current pane contents of a session.
func (s *Supervisor) Capture(ctx context.Context, name string) (string, error) {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", apperrors.NotFound("session", name)
	}
	out, err := s.mux.CapturePane(ctx, name)
	if err != nil {
		return "", apperrors.InternalError("failed to capture session "+name, err).WithDetails(tmuxDetails(err))
	}
	return out, nil
}

// ClassifySession maps a session name to its kind.
func ClassifySession(name string) v1.SessionKind {
	if IsProtected(name) {
		return v1.SessionKindInfrastructure
	}
	if paths.IsRalphSession(name) {
		return v1.SessionKindRalph
	}
	if strings.HasPrefix(name, "agent-") {
		rest := strings.TrimPrefix(name, "agent-")
		if strings.Contains(rest, "-") {
			return v1.SessionKindSpawned
		}
		return v1.SessionKindCore
	}
	return v1.SessionKindInfrastructure
}

// SetLabel assigns a display label to a ralph session, mirroring it to the
// multiplexer window title.
func (s *Supervisor) SetLabel(ctx context.Context, name, label string) error {
	if !paths.IsRalphSession(name) {
		return apperrors.Invalid("only ralph sessions can have custom labels: " + name)
	}

	label = strings.TrimSpace(label)
	if !paths.ValidSessionLabel(label) {
		return apperrors.Invalid("label must be 1-30 characters of letters, numbers, spaces, hyphens, and underscores")
	}

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("session", name)
	}

	s.labels.Set(name, label)

	// Window title mirrors the label; failure is best-effort.
	s.RenameWindow(ctx, name, "ralph: "+label)
	return nil
}

// ClearLabel removes a session's label and restores the default window title.
func (s *Supervisor) ClearLabel(ctx context.Context, name string) error {
	if !s.labels.Remove(name) {
		return nil
	}
	if exists, err := s.Exists(ctx, name); err == nil && exists {
		s.RenameWindow(ctx, name, name)
	}
	return nil
}

func tmuxDetails(err error) string {
	var te *TmuxError
	if errors.As(err, &te) && te.Stderr != "" {
		return te.Stderr
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
