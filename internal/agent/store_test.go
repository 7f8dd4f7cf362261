package agent

import (
	"context"
	"os"
	"strings"
	"testing"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

func testStore(t *testing.T) (*Store, *paths.Resolver) {
	t.Helper()
	resolver, err := paths.NewResolver(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return NewStore(resolver, log), resolver
}

func cronAgent(name string) v1.Agent {
	return v1.Agent{
		Name:    name,
		Kind:    v1.AgentKindCron,
		Model:   "sonnet",
		Enabled: true,
		Cron:    "0 * * * *",
		Guardrails: v1.Guardrails{
			AllowedTools:   []string{"Read", "Edit"},
			ForbiddenPaths: []string{"/etc"},
			MaxFileEdits:   10,
		},
		TimeoutSecs: 300,
	}
}

func TestAgentRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	in := cronAgent("alpha")
	if err := store.CreateAgent(ctx, in); err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := store.GetAgent(ctx, "alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Serialise/deserialise is the identity on recognised fields
	if out.Name != in.Name || out.Kind != in.Kind || out.Model != in.Model ||
		out.Cron != in.Cron || out.Enabled != in.Enabled || out.TimeoutSecs != in.TimeoutSecs {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
	if len(out.Guardrails.AllowedTools) != 2 || out.Guardrails.MaxFileEdits != 10 {
		t.Errorf("guardrails mismatch: %+v", out.Guardrails)
	}
}

func TestCreateDuplicateAgent(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.CreateAgent(ctx, cronAgent("alpha")); err != nil {
		t.Fatal(err)
	}
	err := store.CreateAgent(ctx, cronAgent("alpha"))
	if apperrors.GetHTTPStatus(err) != 409 {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "Alpha", "9lives", "has space"} {
		a := cronAgent("x")
		a.Name = name
		if err := Validate(a); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestValidateKindRequirements(t *testing.T) {
	a := cronAgent("alpha")
	a.Cron = ""
	if err := Validate(a); err == nil {
		t.Error("cron agent without expression must be rejected")
	}

	e := v1.Agent{Name: "beta", Kind: v1.AgentKindEvent, Enabled: true}
	if err := Validate(e); err == nil {
		t.Error("event agent without trigger must be rejected")
	}

	i := v1.Agent{Name: "ralph", Kind: v1.AgentKindInteractive}
	if err := Validate(i); err != nil {
		t.Errorf("interactive agent needs no trigger: %v", err)
	}
}

func TestUnknownKeysPreserved(t *testing.T) {
	store, resolver := testStore(t)
	ctx := context.Background()

	raw := strings.Join([]string{
		"name: alpha",
		"kind: cron",
		"model: sonnet",
		"enabled: true",
		"cron: '0 * * * *'",
		"x_custom_annotation: keep-me",
	}, "\n")
	path := resolver.AgentConfigPath("alpha")
	if err := paths.WriteFileAtomic(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := store.GetAgent(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	a.Model = "opus"
	if err := store.UpdateAgent(ctx, a); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "x_custom_annotation: keep-me") {
		t.Errorf("unknown key lost on rewrite:\n%s", data)
	}
	if !strings.Contains(string(data), "model: opus") {
		t.Errorf("update lost:\n%s", data)
	}
}

func TestInstructionsRoundTrip(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	if err := store.CreateAgent(ctx, cronAgent("alpha")); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteInstructions(ctx, "alpha", "# Review the nightly build\n"); err != nil {
		t.Fatal(err)
	}
	got, err := store.ReadInstructions(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if got != "# Review the nightly build\n" {
		t.Errorf("instructions = %q", got)
	}
}

func TestTeamLifecycle(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	team := Team{Name: "platform", Description: "infra team", Members: []string{"ana", "bill"}}
	if err := store.PutTeam(ctx, team); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetTeam(ctx, "platform")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "infra team" || len(got.Members) != 2 {
		t.Errorf("team mismatch: %+v", got)
	}

	if err := store.RenameTeam(ctx, "platform", "core"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetTeam(ctx, "platform"); !apperrors.IsNotFound(err) {
		t.Errorf("old team name still resolves: %v", err)
	}
	renamed, err := store.GetTeam(ctx, "core")
	if err != nil {
		t.Fatal(err)
	}
	if renamed.Name != "core" {
		t.Errorf("renamed team has stale name %q", renamed.Name)
	}

	if err := store.DeleteTeam(ctx, "core"); err != nil {
		t.Fatal(err)
	}
	teams, _ := store.ListTeams(ctx)
	if len(teams) != 0 {
		t.Errorf("teams remain after delete: %v", teams)
	}
}

func TestListAgentsIncludesTeamScoped(t *testing.T) {
	store, resolver := testStore(t)
	ctx := context.Background()

	if err := store.CreateAgent(ctx, cronAgent("shared")); err != nil {
		t.Fatal(err)
	}
	if err := store.PutTeam(ctx, Team{Name: "alpha"}); err != nil {
		t.Fatal(err)
	}

	scoped := "name: scoped\nkind: interactive\nmodel: haiku\nenabled: true\n"
	scopedPath := resolver.TeamAgentDir("alpha", "scoped") + "/agent.yaml"
	if err := paths.WriteFileAtomic(scopedPath, []byte(scoped), 0o644); err != nil {
		t.Fatal(err)
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	var foundScoped bool
	for _, a := range agents {
		if a.Name == "scoped" && a.Team == "alpha" {
			foundScoped = true
		}
	}
	if !foundScoped {
		t.Errorf("team-scoped agent missing: %+v", agents)
	}
}
