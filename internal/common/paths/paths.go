// Package paths resolves the on-disk layout of the Nolan data root and
// validates the fixed identifier grammars used across the control plane.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Identifier grammars. These are closed: additions are a code change.
var (
	// reAgentName matches agent, team, and provider identifiers
	reAgentName = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

	// reSessionName matches any supervised session:
	// agent-<ident>, agent-<ident>-<suffix>, agent-ralph-<label>
	reSessionName = regexp.MustCompile(`^agent-([a-z][a-z0-9_]*)(-[a-z0-9][a-z0-9_-]*)?$`)

	// reRalphSession matches the interactive-agent family that supports
	// user-assigned labels
	reRalphSession = regexp.MustCompile(`^agent-ralph-[a-z0-9][a-z0-9_-]*$`)

	// reSessionLabel matches a user-assigned display label
	reSessionLabel = regexp.MustCompile(`^[a-zA-Z0-9 _-]{1,30}$`)
)

// ValidAgentName reports whether name matches the agent identifier grammar.
func ValidAgentName(name string) bool {
	return reAgentName.MatchString(name)
}

// ValidSessionName reports whether name matches a supervised session grammar.
func ValidSessionName(name string) bool {
	return reSessionName.MatchString(name)
}

// IsRalphSession reports whether name belongs to the ralph session family.
func IsRalphSession(name string) bool {
	return reRalphSession.MatchString(name)
}

// ValidSessionLabel reports whether label satisfies the label grammar
// (1-30 characters, alphanumeric plus space, hyphen, underscore).
func ValidSessionLabel(label string) bool {
	return reSessionLabel.MatchString(label)
}

// Resolver resolves locations under a single data root. Constructible so
// tests can run two independent instances in one process.
type Resolver struct {
	dataRoot string
}

// NewResolver creates a resolver rooted at dataRoot, creating the
// directory if needed. An empty dataRoot resolves to $HOME/.nolan.
func NewResolver(dataRoot string) (*Resolver, error) {
	if dataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		dataRoot = filepath.Join(home, ".nolan")
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data root %s: %w", dataRoot, err)
	}
	return &Resolver{dataRoot: dataRoot}, nil
}

// DataRoot returns the resolved data root directory.
func (r *Resolver) DataRoot() string {
	return r.dataRoot
}

// AgentsDir returns the shared agents directory.
func (r *Resolver) AgentsDir() string {
	return filepath.Join(r.dataRoot, "agents")
}

// AgentDir returns the directory holding one shared agent's definition.
func (r *Resolver) AgentDir(name string) string {
	return filepath.Join(r.AgentsDir(), name)
}

// AgentConfigPath returns the agent.yaml path for a shared agent.
func (r *Resolver) AgentConfigPath(name string) string {
	return filepath.Join(r.AgentDir(name), "agent.yaml")
}

// AgentInstructionsPath returns the prompt body file for a shared agent.
func (r *Resolver) AgentInstructionsPath(name string) string {
	return filepath.Join(r.AgentDir(name), "CLAUDE.md")
}

// TeamsDir returns the teams directory.
func (r *Resolver) TeamsDir() string {
	return filepath.Join(r.dataRoot, "teams")
}

// TeamDir returns one team's directory.
func (r *Resolver) TeamDir(team string) string {
	return filepath.Join(r.TeamsDir(), team)
}

// TeamConfigPath returns the team.yaml path for a team.
func (r *Resolver) TeamConfigPath(team string) string {
	return filepath.Join(r.TeamDir(team), "team.yaml")
}

// TeamAgentDir returns the directory of a team-scoped agent.
func (r *Resolver) TeamAgentDir(team, name string) string {
	return filepath.Join(r.TeamDir(team), "agents", name)
}

// StateDir returns the consolidated state directory.
func (r *Resolver) StateDir() string {
	return filepath.Join(r.dataRoot, ".state")
}

// SchedulesPath returns the armed-schedules YAML path.
func (r *Resolver) SchedulesPath() string {
	return filepath.Join(r.StateDir(), "schedules.yaml")
}

// SchedulerStateDir returns the scheduler persistence directory.
func (r *Resolver) SchedulerStateDir() string {
	return filepath.Join(r.StateDir(), "scheduler")
}

// RunIndexPath returns the sqlite run-history index path.
func (r *Resolver) RunIndexPath() string {
	return filepath.Join(r.SchedulerStateDir(), "runs.db")
}

// RunsDir returns the root of the dated run-log tree.
func (r *Resolver) RunsDir() string {
	return filepath.Join(r.dataRoot, "cronos", "runs")
}

// RunsDirFor returns the run directory for a given date.
func (r *Resolver) RunsDirFor(t time.Time) string {
	return filepath.Join(r.RunsDir(), t.UTC().Format("2006-01-02"))
}

// RunLogPath returns the stdout capture path for a run.
func (r *Resolver) RunLogPath(agent string, startedAt time.Time) string {
	ts := startedAt.UTC()
	return filepath.Join(r.RunsDirFor(ts), fmt.Sprintf("%s-%s.log", agent, ts.Format("150405")))
}

// RunJSONPath returns the sibling RunLog JSON path for a run.
func (r *Resolver) RunJSONPath(agent string, startedAt time.Time) string {
	ts := startedAt.UTC()
	return filepath.Join(r.RunsDirFor(ts), fmt.Sprintf("%s-%s.json", agent, ts.Format("150405")))
}

// PasswordPath returns the Argon2 password-record path.
func (r *Resolver) PasswordPath() string {
	return filepath.Join(r.dataRoot, "server-password")
}

// AgentWorkRoot resolves the directory agents operate in: AGENT_WORK_ROOT
// when set and present, otherwise the process working directory.
func AgentWorkRoot() (string, error) {
	if root := os.Getenv("AGENT_WORK_ROOT"); root != "" {
		if _, err := os.Stat(root); err == nil {
			return root, nil
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}

// WriteFileAtomic writes data to path with the given mode via a temp file
// and rename, so a crash never leaves a half-formed file at the final name.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set mode on %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}
