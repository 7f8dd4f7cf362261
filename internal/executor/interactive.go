package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// maxSpawnedInstances bounds numeric instance suffixes per agent.
const maxSpawnedInstances = 16

// ralphNames are the instance names for spawned ralph sessions, used
// instead of numbers.
var ralphNames = []string{
	"ziggy", "nova", "echo", "pixel", "cosmo", "blitz", "dash", "flux",
	"spark", "byte", "glitch", "neon", "pulse", "turbo", "zephyr", "volt",
	"axel", "chip", "droid", "frost", "gizmo", "helix", "jade", "karma",
	"luna", "mojo", "nitro", "onyx", "prism", "quark", "rogue", "sonic",
}

// StartInteractive hosts an interactive agent in its core supervisor
// session (agent-<name>), compiling the provider invocation into a shell
// line for the pane. Returns the session name.
func (e *Executor) StartInteractive(ctx context.Context, a v1.Agent, opts Options) (string, error) {
	if a.Kind != v1.AgentKindInteractive {
		return "", apperrors.Invalid(fmt.Sprintf("agent '%s' is not interactive", a.Name))
	}
	return e.spawnSession(ctx, a, "agent-"+a.Name, "", opts)
}

// SpawnInstance hosts an additional instance of an interactive agent in a
// fresh spawned session. Ralph instances get names from the fixed table;
// other agents get numeric suffixes. A non-empty label is applied to the
// new session (ralph family only).
func (e *Executor) SpawnInstance(ctx context.Context, a v1.Agent, label string, opts Options) (string, error) {
	if a.Kind != v1.AgentKindInteractive {
		return "", apperrors.Invalid(fmt.Sprintf("agent '%s' is not interactive", a.Name))
	}

	name, err := e.pickInstanceName(ctx, a.Name)
	if err != nil {
		return "", err
	}

	session, err := e.spawnSession(ctx, a, name, label, opts)
	if err != nil {
		return "", err
	}
	return session, nil
}

func (e *Executor) pickInstanceName(ctx context.Context, agent string) (string, error) {
	if agent == "ralph" {
		for _, instance := range ralphNames {
			name := "agent-ralph-" + instance
			exists, err := e.sessions.Exists(ctx, name)
			if err != nil {
				return "", err
			}
			if !exists {
				return name, nil
			}
		}
		return "", apperrors.Conflict("all ralph instance names are in use")
	}

	for i := 2; i <= maxSpawnedInstances; i++ {
		name := fmt.Sprintf("agent-%s-%d", agent, i)
		exists, err := e.sessions.Exists(ctx, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
	}
	return "", apperrors.Conflict(fmt.Sprintf("agent '%s' has no free instance slots", agent))
}

// spawnSession compiles the shell line, creates the session, starts its
// output stream, and applies an optional label.
func (e *Executor) spawnSession(ctx context.Context, a v1.Agent, name, label string, opts Options) (string, error) {
	if e.sessions == nil {
		return "", apperrors.Unavailable("session supervisor")
	}

	cfg, p, err := e.spawnConfig(ctx, a, opts)
	if err != nil {
		return "", err
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	cfg.Env["NOLAN_AGENT"] = a.Name
	cfg.Env["NOLAN_SESSION"] = name

	shellLine := p.BuildShellLine(cfg)
	if err := e.sessions.Create(ctx, name, shellLine, cfg.WorkingDir, cfg.Env); err != nil {
		return "", err
	}

	// Output streaming is best-effort: the session is already live and
	// attachable even when the pipe fails. The stream outlives the
	// request that spawned it and stops when the session dies.
	if err := e.sessions.StreamOutput(context.WithoutCancel(ctx), name); err != nil {
		e.logger.Warn("session output stream unavailable",
			zap.String("session", name),
			zap.Error(err))
	}

	if label != "" {
		if err := e.sessions.SetLabel(ctx, name, label); err != nil {
			e.logger.Warn("failed to apply session label",
				zap.String("session", name),
				zap.String("label", label),
				zap.Error(err))
		}
	}

	e.logger.Info("interactive session started",
		zap.String("agent", a.Name),
		zap.String("session", name),
		zap.String("provider", p.Name()))
	return name, nil
}
