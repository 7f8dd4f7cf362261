package provider

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
)

// Claude is the Claude Code CLI provider.
//
// Flags used:
//   - `-p <prompt>` prompt to send
//   - `--model <model>` model selection (opus, sonnet, haiku)
//   - `--dangerously-skip-permissions` skip permission prompts
//   - `--verbose` required by -p with stream-json output
//   - `--output-format stream-json` NDJSON streaming output
//   - `--session-id <id>` / `--continue` resume support
//   - `--allowedTools <a,b>` tool allow-list
//   - `--append-system-prompt <text>` guardrail injection
type Claude struct{}

// NewClaude creates the Claude Code provider.
func NewClaude() *Claude {
	return &Claude{}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Available() bool {
	return commandExists("claude")
}

func (c *Claude) MapModel(model string) string {
	switch strings.ToLower(model) {
	case "opus", "claude-opus", "claude-4-opus":
		return "opus"
	case "sonnet", "claude-sonnet", "claude-4-sonnet":
		return "sonnet"
	case "haiku", "claude-haiku", "claude-4-haiku":
		return "haiku"
	default:
		return model
	}
}

func (c *Claude) BuildArgs(cfg *SpawnConfig) []string {
	args := []string{"claude", "-p", cfg.Prompt}

	if cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}

	format := cfg.OutputFormat
	if format == "" {
		format = OutputStreamJSON
	}
	args = append(args, "--output-format", string(format))
	args = append(args, "--model", c.MapModel(cfg.Model))

	if cfg.SessionID != "" {
		args = append(args, c.SessionIDFlag(), cfg.SessionID)
	}
	if cfg.Resume {
		args = append(args, c.ResumeFlag())
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if cfg.SystemPromptAppend != "" {
		args = append(args, "--append-system-prompt", cfg.SystemPromptAppend)
	}

	return args
}

func (c *Claude) BuildShellLine(cfg *SpawnConfig) string {
	parts := shellPreamble(cfg)

	var b strings.Builder
	b.WriteString("claude -p " + shellQuote(cfg.Prompt))
	if cfg.SkipPermissions {
		b.WriteString(" --dangerously-skip-permissions")
	}
	if cfg.Verbose {
		b.WriteString(" --verbose")
	}
	format := cfg.OutputFormat
	if format == "" {
		format = OutputStreamJSON
	}
	b.WriteString(" --output-format " + string(format))
	b.WriteString(" --model " + c.MapModel(cfg.Model))
	if cfg.SessionID != "" {
		b.WriteString(" " + c.SessionIDFlag() + " " + shellQuote(cfg.SessionID))
	}
	if cfg.Resume {
		b.WriteString(" " + c.ResumeFlag())
	}
	if len(cfg.AllowedTools) > 0 {
		b.WriteString(" --allowedTools " + shellQuote(strings.Join(cfg.AllowedTools, ",")))
	}
	if cfg.SystemPromptAppend != "" {
		b.WriteString(" --append-system-prompt " + shellQuote(cfg.SystemPromptAppend))
	}

	parts = append(parts, b.String())
	return strings.Join(parts, "; ")
}

// ParseOutput scans the NDJSON log in reverse for the last record with
// type "result" and extracts the run cost and session id.
func (c *Claude) ParseOutput(logPath string) ParseResult {
	var result ParseResult

	lines, err := readLines(logPath)
	if err != nil {
		return result
	}

	type resultEntry struct {
		Type         string   `json:"type"`
		TotalCostUSD *float64 `json:"total_cost_usd"`
		SessionID    string   `json:"session_id"`
	}

	for i := len(lines) - 1; i >= 0; i-- {
		var entry resultEntry
		if err := json.Unmarshal([]byte(lines[i]), &entry); err != nil {
			continue
		}
		if entry.Type == "result" {
			result.CostUSD = entry.TotalCostUSD
			result.ResumeSessionID = entry.SessionID
			break
		}
	}

	return result
}

func (c *Claude) SupportsResume() bool  { return true }
func (c *Claude) ResumeFlag() string    { return "--continue" }
func (c *Claude) SessionIDFlag() string { return "--session-id" }

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
