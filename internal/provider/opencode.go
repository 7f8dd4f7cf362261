package provider

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// OpenCode is the OpenCode CLI provider. OpenCode is multi-provider, so
// model names are in provider/model form; canonical names map into the
// anthropic namespace and bare unknown names are prefixed with it.
//
// Flags used:
//   - `run <message>` run with a prompt
//   - `-m <provider/model>` model selection
//   - `-s <session>` session id
//   - `--continue` continue last session
//
// OpenCode has no equivalents for permission skipping, tool allow-lists,
// or system-prompt appends. BuildArgs and BuildShellLine ignore
// AllowedTools and SystemPromptAppend, so an agent's guardrails do not
// reach an OpenCode child.
type OpenCode struct {
	executable string
}

// NewOpenCode creates the OpenCode provider.
func NewOpenCode() *OpenCode {
	return &OpenCode{executable: openCodeExecutable()}
}

func openCodeExecutable() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".opencode", "bin", "opencode")
	}
	return "opencode"
}

func (o *OpenCode) Name() string { return "opencode" }

func (o *OpenCode) Available() bool {
	if _, err := os.Stat(o.executable); err == nil {
		return true
	}
	return commandExists("opencode")
}

func (o *OpenCode) MapModel(model string) string {
	switch strings.ToLower(model) {
	case "opus", "claude-opus", "claude-4-opus":
		return "anthropic/claude-4-opus"
	case "sonnet", "claude-sonnet", "claude-4-sonnet":
		return "anthropic/claude-4-sonnet"
	case "haiku", "claude-haiku", "claude-4-haiku":
		return "anthropic/claude-4-haiku"
	}
	if strings.Contains(model, "/") {
		return model
	}
	return "anthropic/" + model
}

func (o *OpenCode) BuildArgs(cfg *SpawnConfig) []string {
	args := []string{o.executable, "run", cfg.Prompt}
	args = append(args, "-m", o.MapModel(cfg.Model))
	if cfg.SessionID != "" {
		args = append(args, o.SessionIDFlag(), cfg.SessionID)
	}
	if cfg.Resume {
		args = append(args, o.ResumeFlag())
	}
	return args
}

func (o *OpenCode) BuildShellLine(cfg *SpawnConfig) string {
	parts := shellPreamble(cfg)

	var b strings.Builder
	b.WriteString(o.executable + " run " + shellQuote(cfg.Prompt))
	b.WriteString(" -m " + o.MapModel(cfg.Model))
	if cfg.SessionID != "" {
		b.WriteString(" " + o.SessionIDFlag() + " " + shellQuote(cfg.SessionID))
	}
	if cfg.Resume {
		b.WriteString(" " + o.ResumeFlag())
	}

	parts = append(parts, b.String())
	return strings.Join(parts, "; ")
}

// ParseOutput scans the log in reverse for the first JSON line carrying a
// top-level "cost" or "session_id" field. OpenCode's output shape is not
// pinned down upstream; this mirrors what current releases emit and is
// guarded by TestOpenCodeParseOutput.
func (o *OpenCode) ParseOutput(logPath string) ParseResult {
	var result ParseResult

	lines, err := readLines(logPath)
	if err != nil {
		return result
	}

	for i := len(lines) - 1; i >= 0; i-- {
		var value map[string]json.RawMessage
		if err := json.Unmarshal([]byte(lines[i]), &value); err != nil {
			continue
		}
		if raw, ok := value["cost"]; ok {
			var cost float64
			if err := json.Unmarshal(raw, &cost); err == nil {
				result.CostUSD = &cost
			}
		}
		if raw, ok := value["session_id"]; ok {
			var id string
			if err := json.Unmarshal(raw, &id); err == nil {
				result.ResumeSessionID = id
			}
		}
		if result.CostUSD != nil || result.ResumeSessionID != "" {
			break
		}
	}

	return result
}

func (o *OpenCode) SupportsResume() bool  { return true }
func (o *OpenCode) ResumeFlag() string    { return "--continue" }
func (o *OpenCode) SessionIDFlag() string { return "-s" }
