// Package agent persists agent and team definitions as YAML under the
// data root. Unknown keys in agent.yaml are preserved across rewrites.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// agentFile is the on-disk agent.yaml shape. Extra captures unrecognised
// keys so a rewrite round-trips them.
type agentFile struct {
	Name             string                 `yaml:"name"`
	Kind             v1.AgentKind           `yaml:"kind"`
	Model            string                 `yaml:"model"`
	WorkingDirectory string                 `yaml:"working_directory,omitempty"`
	Enabled          bool                   `yaml:"enabled"`
	CLIProvider      string                 `yaml:"cli_provider,omitempty"`
	Cron             string                 `yaml:"cron,omitempty"`
	Timezone         string                 `yaml:"timezone,omitempty"`
	CatchupPolicy    v1.CatchUpPolicy       `yaml:"catchup_policy,omitempty"`
	EventTrigger     *v1.EventTrigger       `yaml:"event_trigger,omitempty"`
	Guardrails       v1.Guardrails          `yaml:"guardrails,omitempty"`
	TimeoutSecs      int                    `yaml:"timeout_secs,omitempty"`
	Serial           bool                   `yaml:"serial,omitempty"`
	Extra            map[string]interface{} `yaml:",inline"`
}

func fromWire(a v1.Agent, extra map[string]interface{}) agentFile {
	return agentFile{
		Name:             a.Name,
		Kind:             a.Kind,
		Model:            a.Model,
		WorkingDirectory: a.WorkingDirectory,
		Enabled:          a.Enabled,
		CLIProvider:      a.CLIProvider,
		Cron:             a.Cron,
		Timezone:         a.Timezone,
		CatchupPolicy:    a.CatchupPolicy,
		EventTrigger:     a.EventTrigger,
		Guardrails:       a.Guardrails,
		TimeoutSecs:      a.TimeoutSecs,
		Serial:           a.Serial,
		Extra:            extra,
	}
}

func (f agentFile) toWire(team string) v1.Agent {
	return v1.Agent{
		Name:             f.Name,
		Kind:             f.Kind,
		Model:            f.Model,
		WorkingDirectory: f.WorkingDirectory,
		Enabled:          f.Enabled,
		CLIProvider:      f.CLIProvider,
		Cron:             f.Cron,
		Timezone:         f.Timezone,
		CatchupPolicy:    f.CatchupPolicy,
		EventTrigger:     f.EventTrigger,
		Guardrails:       f.Guardrails,
		TimeoutSecs:      f.TimeoutSecs,
		Serial:           f.Serial,
		Team:             team,
	}
}

// Team is the on-disk team.yaml shape.
type Team struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Members     []string               `yaml:"members,omitempty" json:"members,omitempty"`
	Extra       map[string]interface{} `yaml:",inline" json:"-"`
}

// Store is the file-backed agent and team repository.
type Store struct {
	resolver *paths.Resolver
	logger   *logger.Logger
}

// NewStore creates a store over the given resolver.
func NewStore(resolver *paths.Resolver, log *logger.Logger) *Store {
	return &Store{
		resolver: resolver,
		logger:   log.WithFields(zap.String("component", "agent-store")),
	}
}

// ListAgents returns every shared and team-scoped agent.
func (s *Store) ListAgents(ctx context.Context) ([]v1.Agent, error) {
	var agents []v1.Agent

	shared, err := s.listDir(s.resolver.AgentsDir(), "")
	if err != nil {
		return nil, err
	}
	agents = append(agents, shared...)

	teams, err := s.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	for _, team := range teams {
		scoped, err := s.listDir(filepath.Join(s.resolver.TeamDir(team.Name), "agents"), team.Name)
		if err != nil {
			return nil, err
		}
		agents = append(agents, scoped...)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *Store) listDir(dir, team string) ([]v1.Agent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.InternalError("failed to read agents directory", err)
	}

	var agents []v1.Agent
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		file, err := s.readFile(filepath.Join(dir, entry.Name(), "agent.yaml"))
		if err != nil {
			s.logger.Warn("skipping unreadable agent definition",
				zap.String("agent", entry.Name()),
				zap.Error(err))
			continue
		}
		agents = append(agents, file.toWire(team))
	}
	return agents, nil
}

// GetAgent returns one shared agent by name.
func (s *Store) GetAgent(ctx context.Context, name string) (v1.Agent, error) {
	file, err := s.readFile(s.resolver.AgentConfigPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return v1.Agent{}, apperrors.NotFound("agent", name)
		}
		return v1.Agent{}, apperrors.InternalError("failed to read agent "+name, err)
	}
	return file.toWire(""), nil
}

// CreateAgent writes a new shared agent definition.
func (s *Store) CreateAgent(ctx context.Context, a v1.Agent) error {
	if err := Validate(a); err != nil {
		return err
	}
	path := s.resolver.AgentConfigPath(a.Name)
	if _, err := os.Stat(path); err == nil {
		return apperrors.AlreadyExists("agent", a.Name)
	}
	return s.writeFile(path, fromWire(a, nil))
}

// UpdateAgent rewrites an existing agent definition, preserving
// unrecognised keys.
func (s *Store) UpdateAgent(ctx context.Context, a v1.Agent) error {
	if err := Validate(a); err != nil {
		return err
	}
	path := s.resolver.AgentConfigPath(a.Name)
	existing, err := s.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.NotFound("agent", a.Name)
		}
		return apperrors.InternalError("failed to read agent "+a.Name, err)
	}
	return s.writeFile(path, fromWire(a, existing.Extra))
}

// DeleteAgent removes an agent definition directory.
func (s *Store) DeleteAgent(ctx context.Context, name string) error {
	dir := s.resolver.AgentDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return apperrors.NotFound("agent", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.InternalError("failed to delete agent "+name, err)
	}
	s.logger.Info("agent deleted", zap.String("agent", name))
	return nil
}

// ReadInstructions returns the agent's prompt body.
func (s *Store) ReadInstructions(ctx context.Context, name string) (string, error) {
	data, err := os.ReadFile(s.resolver.AgentInstructionsPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NotFound("instructions for agent", name)
		}
		return "", apperrors.InternalError("failed to read instructions", err)
	}
	return string(data), nil
}

// WriteInstructions replaces the agent's prompt body.
func (s *Store) WriteInstructions(ctx context.Context, name, content string) error {
	if _, err := os.Stat(s.resolver.AgentDir(name)); os.IsNotExist(err) {
		return apperrors.NotFound("agent", name)
	}
	if err := paths.WriteFileAtomic(s.resolver.AgentInstructionsPath(name), []byte(content), 0o644); err != nil {
		return apperrors.InternalError("failed to write instructions", err)
	}
	return nil
}

// ListTeams returns every team definition.
func (s *Store) ListTeams(ctx context.Context) ([]Team, error) {
	entries, err := os.ReadDir(s.resolver.TeamsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.InternalError("failed to read teams directory", err)
	}

	var teams []Team
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		team, err := s.GetTeam(ctx, entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable team",
				zap.String("team", entry.Name()),
				zap.Error(err))
			continue
		}
		teams = append(teams, team)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

// GetTeam returns one team by name.
func (s *Store) GetTeam(ctx context.Context, name string) (Team, error) {
	data, err := os.ReadFile(s.resolver.TeamConfigPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Team{}, apperrors.NotFound("team", name)
		}
		return Team{}, apperrors.InternalError("failed to read team "+name, err)
	}
	var team Team
	if err := yaml.Unmarshal(data, &team); err != nil {
		return Team{}, apperrors.Invalid(fmt.Sprintf("malformed team.yaml for '%s': %v", name, err))
	}
	if team.Name == "" {
		team.Name = name
	}
	return team, nil
}

// PutTeam writes a team definition.
func (s *Store) PutTeam(ctx context.Context, team Team) error {
	if !paths.ValidAgentName(team.Name) {
		return apperrors.Invalid("invalid team name: " + team.Name)
	}
	data, err := yaml.Marshal(team)
	if err != nil {
		return apperrors.InternalError("failed to marshal team", err)
	}
	if err := paths.WriteFileAtomic(s.resolver.TeamConfigPath(team.Name), data, 0o644); err != nil {
		return apperrors.InternalError("failed to write team", err)
	}
	return nil
}

// DeleteTeam removes a team directory, including its scoped agents.
func (s *Store) DeleteTeam(ctx context.Context, name string) error {
	dir := s.resolver.TeamDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return apperrors.NotFound("team", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.InternalError("failed to delete team "+name, err)
	}
	return nil
}

// RenameTeam moves a team directory to a new name.
func (s *Store) RenameTeam(ctx context.Context, oldName, newName string) error {
	if !paths.ValidAgentName(newName) {
		return apperrors.Invalid("invalid team name: " + newName)
	}
	oldDir := s.resolver.TeamDir(oldName)
	newDir := s.resolver.TeamDir(newName)
	if _, err := os.Stat(oldDir); os.IsNotExist(err) {
		return apperrors.NotFound("team", oldName)
	}
	if _, err := os.Stat(newDir); err == nil {
		return apperrors.AlreadyExists("team", newName)
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return apperrors.InternalError("failed to rename team", err)
	}

	team, err := s.GetTeam(ctx, newName)
	if err != nil {
		return err
	}
	team.Name = newName
	return s.PutTeam(ctx, team)
}

func (s *Store) readFile(path string) (agentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agentFile{}, err
	}
	var file agentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return agentFile{}, fmt.Errorf("malformed agent.yaml at %s: %w", path, err)
	}
	return file, nil
}

func (s *Store) writeFile(path string, file agentFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return apperrors.InternalError("failed to marshal agent", err)
	}
	if err := paths.WriteFileAtomic(path, data, 0o644); err != nil {
		return apperrors.InternalError("failed to write agent", err)
	}
	return nil
}

// Validate checks an agent definition against the identifier grammar and
// kind-specific requirements.
func Validate(a v1.Agent) error {
	if !paths.ValidAgentName(a.Name) {
		return apperrors.Invalid("agent name must match [a-z][a-z0-9_-]{0,63}: " + a.Name)
	}
	switch a.Kind {
	case v1.AgentKindCron:
		if a.Cron == "" {
			return apperrors.Invalid("cron agents require a cron expression")
		}
	case v1.AgentKindEvent:
		if a.EventTrigger == nil {
			return apperrors.Invalid("event agents require an event_trigger")
		}
		if a.EventTrigger.DebounceMS < 0 {
			return apperrors.Invalid("debounce_ms must be non-negative")
		}
	case v1.AgentKindInteractive:
		// no trigger
	default:
		return apperrors.Invalid(fmt.Sprintf("unknown agent kind: %q", a.Kind))
	}
	switch a.CatchupPolicy {
	case "", v1.CatchUpSkip, v1.CatchUpRunOnce, v1.CatchUpRunAll:
	default:
		return apperrors.Invalid(fmt.Sprintf("unknown catchup_policy: %q", a.CatchupPolicy))
	}
	return nil
}
