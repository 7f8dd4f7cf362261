package session

import (
	"context"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
)

// InputMode selects how send_input dispatches its payload.
type InputMode string

const (
	InputLiteral InputMode = "literal"
	InputKey     InputMode = "key"
	InputRaw     InputMode = "raw"
)

// keyMap is the closed alphabet of named keys and their multiplexer key
// codes.
var keyMap = map[string]string{
	"Enter":      "C-m",
	"Backspace":  "BSpace",
	"Tab":        "Tab",
	"ArrowUp":    "Up",
	"ArrowDown":  "Down",
	"ArrowLeft":  "Left",
	"ArrowRight": "Right",
	"Escape":     "Escape",
	"Delete":     "DC",
	"Home":       "Home",
	"End":        "End",
	"PageUp":     "PPage",
	"PageDown":   "NPage",
}

// ansiKeys routes common escape sequences through the key path. Everything
// else falls through to a literal send.
var ansiKeys = map[string]string{
	"\x1b[A": "ArrowUp",
	"\x1b[B": "ArrowDown",
	"\x1b[C": "ArrowRight",
	"\x1b[D": "ArrowLeft",
	"\x1b[H": "Home",
	"\x1b[F": "End",
}

// SendInput dispatches input to an interactive session. If the target pane
// is in copy-mode the supervisor exits copy-mode first.
func (s *Supervisor) SendInput(ctx context.Context, name, payload string, mode InputMode) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return apperrors.NotFound("session", name)
	}

	s.exitCopyMode(ctx, name)

	switch mode {
	case InputLiteral, "":
		return s.sendLiteral(ctx, name, payload)
	case InputKey:
		return s.sendKey(ctx, name, payload)
	case InputRaw:
		return s.sendRaw(ctx, name, payload)
	default:
		return apperrors.Invalid("unknown input mode: " + string(mode))
	}
}

func (s *Supervisor) sendLiteral(ctx context.Context, name, data string) error {
	if err := s.mux.SendKeys(ctx, name, []string{"-l", data}); err != nil {
		return apperrors.InternalError("failed to send input to "+name, err).WithDetails(tmuxDetails(err))
	}
	return nil
}

func (s *Supervisor) sendKey(ctx context.Context, name, key string) error {
	code, ok := keyMap[key]
	if !ok {
		return apperrors.Invalid("unsupported key: " + key)
	}
	if err := s.mux.SendKeys(ctx, name, []string{code}); err != nil {
		return apperrors.InternalError("failed to send key to "+name, err).WithDetails(tmuxDetails(err))
	}
	return nil
}

func (s *Supervisor) sendRaw(ctx context.Context, name, data string) error {
	if key, ok := ansiKeys[data]; ok {
		return s.sendKey(ctx, name, key)
	}

	switch data {
	case "\r", "\n":
		return s.sendKey(ctx, name, "Enter")
	case "\t":
		return s.sendKey(ctx, name, "Tab")
	case "\x7f":
		return s.sendKey(ctx, name, "Backspace")
	case "\x1b":
		return s.sendKey(ctx, name, "Escape")
	}

	return s.sendLiteral(ctx, name, data)
}

// exitCopyMode sends 'q' when the pane is in copy-mode so input reaches the
// application instead of the scrollback view.
func (s *Supervisor) exitCopyMode(ctx context.Context, name string) {
	inMode, err := s.mux.PaneInMode(ctx, name)
	if err != nil || !inMode {
		return
	}
	_ = s.mux.SendKeys(ctx, name, []string{"q"})
}
