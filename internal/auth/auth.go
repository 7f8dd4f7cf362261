// Package auth provides password-based authentication with in-memory
// bearer session tokens. The password is stored as an Argon2id hash in a
// 0600-mode file; the presence of that file declares that authentication
// is mandatory.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/paths"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Gateway verifies passwords and tracks issued session tokens. Tokens are
// memory-resident and lost on restart.
type Gateway struct {
	resolver *paths.Resolver
	host     string

	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewGateway creates a gateway. host is the configured bind address, used
// to decide whether auth is mandatory on a password-less install.
func NewGateway(resolver *paths.Resolver, host string) *Gateway {
	return &Gateway{
		resolver: resolver,
		host:     host,
		tokens:   make(map[string]struct{}),
	}
}

// PasswordConfigured reports whether a password record exists.
func (g *Gateway) PasswordConfigured() bool {
	_, err := os.Stat(g.resolver.PasswordPath())
	return err == nil
}

// AuthRequired reports whether requests must carry a valid token: true
// when a password record exists or the bind address is non-loopback.
func (g *Gateway) AuthRequired() bool {
	if g.PasswordConfigured() {
		return true
	}
	switch g.host {
	case "127.0.0.1", "localhost", "::1":
		return false
	}
	return true
}

// SetupPassword writes the initial password record. Fails with
// AlreadyConfigured when a record exists and Invalid when the password is
// shorter than MinPasswordLength.
func (g *Gateway) SetupPassword(password string) error {
	if g.PasswordConfigured() {
		return apperrors.AlreadyConfigured("password")
	}
	if len(password) < MinPasswordLength {
		return apperrors.Invalid(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return apperrors.InternalError("failed to generate salt", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	record := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))

	if err := paths.WriteFileAtomic(g.resolver.PasswordPath(), []byte(record), 0o600); err != nil {
		return apperrors.InternalError("failed to write password record", err)
	}
	return nil
}

// VerifyPassword checks password against the stored record.
func (g *Gateway) VerifyPassword(password string) (bool, error) {
	record, err := os.ReadFile(g.resolver.PasswordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, apperrors.NotFound("password record", g.resolver.PasswordPath())
		}
		return false, apperrors.InternalError("failed to read password record", err)
	}

	salt, hash, params, err := parseRecord(strings.TrimSpace(string(record)))
	if err != nil {
		return false, apperrors.InternalError("malformed password record", err)
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(candidate, hash) == 1, nil
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

// parseRecord splits a PHC-format argon2id string into salt, hash, and
// parameters.
func parseRecord(record string) ([]byte, []byte, argonParams, error) {
	parts := strings.Split(record, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, argonParams{}, fmt.Errorf("unexpected record format")
	}

	var params argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, argonParams{}, fmt.Errorf("unexpected parameter block: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, argonParams{}, fmt.Errorf("bad salt encoding: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, argonParams{}, fmt.Errorf("bad hash encoding: %w", err)
	}
	return salt, hash, params, nil
}

// IssueToken mints a 32-byte random bearer token and registers it.
func (g *Gateway) IssueToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apperrors.InternalError("failed to generate token", err)
	}
	token := hex.EncodeToString(raw)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[token] = struct{}{}
	return token, nil
}

// ValidateToken reports whether a token was issued and not revoked.
func (g *Gateway) ValidateToken(token string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.tokens[token]
	return ok
}

// RevokeToken invalidates a token.
func (g *Gateway) RevokeToken(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, token)
}
