package auth

import (
	"os"
	"testing"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

func testGateway(t *testing.T, host string) *Gateway {
	t.Helper()
	resolver, err := paths.NewResolver(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewGateway(resolver, host)
}

func TestSetupAndVerifyPassword(t *testing.T) {
	g := testGateway(t, "127.0.0.1")

	if g.PasswordConfigured() {
		t.Fatal("fresh gateway reports configured password")
	}
	if err := g.SetupPassword("hunter2!"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !g.PasswordConfigured() {
		t.Fatal("password not configured after setup")
	}

	ok, err := g.VerifyPassword("hunter2!")
	if err != nil || !ok {
		t.Errorf("correct password rejected: %v %v", ok, err)
	}
	ok, err = g.VerifyPassword("wrong-pass")
	if err != nil || ok {
		t.Errorf("wrong password accepted: %v %v", ok, err)
	}
}

func TestSetupPasswordTooShort(t *testing.T) {
	g := testGateway(t, "127.0.0.1")
	err := g.SetupPassword("short")
	if apperrors.GetHTTPStatus(err) != 400 {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestSetupPasswordTwice(t *testing.T) {
	g := testGateway(t, "127.0.0.1")
	if err := g.SetupPassword("hunter2!"); err != nil {
		t.Fatal(err)
	}
	err := g.SetupPassword("another-pass")
	if apperrors.GetHTTPStatus(err) != 409 {
		t.Errorf("expected AlreadyConfigured, got %v", err)
	}
}

func TestPasswordFileMode(t *testing.T) {
	g := testGateway(t, "127.0.0.1")
	if err := g.SetupPassword("hunter2!"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(g.resolver.PasswordPath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}
}

func TestAuthRequired(t *testing.T) {
	local := testGateway(t, "127.0.0.1")
	if local.AuthRequired() {
		t.Error("loopback without password must not require auth")
	}
	if err := local.SetupPassword("hunter2!"); err != nil {
		t.Fatal(err)
	}
	if !local.AuthRequired() {
		t.Error("configured password must require auth")
	}

	network := testGateway(t, "0.0.0.0")
	if !network.AuthRequired() {
		t.Error("non-loopback bind must require auth")
	}
}

func TestTokenLifecycle(t *testing.T) {
	g := testGateway(t, "127.0.0.1")

	token, err := g.IssueToken()
	if err != nil {
		t.Fatal(err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}
	if !g.ValidateToken(token) {
		t.Error("issued token not valid")
	}
	if g.ValidateToken("not-a-token") {
		t.Error("unknown token validated")
	}

	g.RevokeToken(token)
	if g.ValidateToken(token) {
		t.Error("revoked token still valid")
	}
}

func TestTwoIndependentGateways(t *testing.T) {
	a := testGateway(t, "127.0.0.1")
	b := testGateway(t, "127.0.0.1")

	token, err := a.IssueToken()
	if err != nil {
		t.Fatal(err)
	}
	if b.ValidateToken(token) {
		t.Error("token leaked across gateway instances")
	}
}
