package agent

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

// Template is a predefined agent bundled with the binary, installable
// into the agents directory.
type Template struct {
	Name      string
	AgentYAML string
	Prompt    string
}

// TemplateInfo describes a template and its install state.
type TemplateInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Model       string `json:"model"`
	Installed   bool   `json:"installed"`
}

// predefinedTemplates is the closed template set.
var predefinedTemplates = []Template{
	{
		Name: "pred-git-commit",
		AgentYAML: `name: pred-git-commit
kind: cron
model: haiku
description: Commit and push pending changes on a schedule
enabled: false
cron: '0 */2 * * *'
timeout_secs: 300
guardrails:
  allowed_tools:
    - Bash
    - Read
  max_file_edits: 0
`,
		Prompt: "Review the working tree. If there are uncommitted changes, group them into\ncoherent commits with clear messages and push to the current branch.\n",
	},
	{
		Name: "pred-qa-validation",
		AgentYAML: `name: pred-qa-validation
kind: event
model: sonnet
description: Run the test suite after every push
enabled: false
event_trigger:
  kind: git-push
  debounce_ms: 60000
timeout_secs: 1800
guardrails:
  allowed_tools:
    - Bash
    - Read
    - Grep
  max_file_edits: 0
`,
		Prompt: "Run the project's test suite and summarise failures with file and line\nreferences. Do not modify any files.\n",
	},
	{
		Name: "pred-security-scan",
		AgentYAML: `name: pred-security-scan
kind: cron
model: opus
description: Nightly dependency and secret scan
enabled: false
cron: '0 3 * * *'
timeout_secs: 1800
guardrails:
  allowed_tools:
    - Bash
    - Read
    - Grep
  forbidden_paths:
    - .git/config
  max_file_edits: 0
`,
		Prompt: "Scan the repository for leaked credentials, vulnerable dependency versions,\nand risky configuration. Produce a prioritised findings report.\n",
	},
	{
		Name: "pred-research",
		AgentYAML: `name: pred-research
kind: interactive
model: opus
description: Long-form research assistant
enabled: true
timeout_secs: 3600
guardrails:
  allowed_tools:
    - Read
    - Grep
    - WebSearch
  max_file_edits: 0
`,
		Prompt: "You are a research assistant. Investigate the topic you are given and write\nup sourced findings.\n",
	},
}

// ListTemplates returns every template with its install state.
func (s *Store) ListTemplates(ctx context.Context) []TemplateInfo {
	out := make([]TemplateInfo, 0, len(predefinedTemplates))
	for _, t := range predefinedTemplates {
		info := TemplateInfo{Name: t.Name}

		var parsed struct {
			Description string `yaml:"description"`
			Model       string `yaml:"model"`
		}
		if err := yaml.Unmarshal([]byte(t.AgentYAML), &parsed); err == nil {
			info.Description = parsed.Description
			info.Model = parsed.Model
		}
		if info.Model == "" {
			info.Model = "sonnet"
		}

		if _, err := os.Stat(s.resolver.AgentDir(t.Name)); err == nil {
			info.Installed = true
		}
		out = append(out, info)
	}
	return out
}

// InstallTemplate materialises a template in the agents directory.
func (s *Store) InstallTemplate(ctx context.Context, name string) error {
	var template *Template
	for i := range predefinedTemplates {
		if predefinedTemplates[i].Name == name {
			template = &predefinedTemplates[i]
			break
		}
	}
	if template == nil {
		return apperrors.NotFound("template", name)
	}

	dir := s.resolver.AgentDir(name)
	if _, err := os.Stat(dir); err == nil {
		return apperrors.AlreadyExists("agent", name)
	}

	if err := paths.WriteFileAtomic(s.resolver.AgentConfigPath(name), []byte(template.AgentYAML), 0o644); err != nil {
		return apperrors.InternalError("failed to write agent.yaml", err)
	}
	if err := paths.WriteFileAtomic(s.resolver.AgentInstructionsPath(name), []byte(template.Prompt), 0o644); err != nil {
		return apperrors.InternalError("failed to write instructions", err)
	}
	return nil
}

// UninstallTemplate removes an installed template's agent directory.
func (s *Store) UninstallTemplate(ctx context.Context, name string) error {
	dir := s.resolver.AgentDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return apperrors.NotFound("installed template", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return apperrors.InternalError("failed to remove agent directory", err)
	}
	return nil
}
