package storage

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

// Token is a gateway bearer token record. The secret itself is never
// stored; only its SHA-256 hash and a short display prefix are kept.
type Token struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scope      string     `json:"scope"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Revoked reports whether the token has been revoked. Revocation is
// one-way: a revoked token never authenticates again.
func (t *Token) Revoked() bool {
	return t != nil && t.RevokedAt != nil
}

const (
	TokenScopeRead  = "read"
	TokenScopeWrite = "write"
)

// GenerateTokenValue creates a random bearer secret for CLI clients.
func GenerateTokenValue() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}

// NormalizeScope canonicalizes a scope string, defaulting to read.
func NormalizeScope(scope string) string {
	if strings.EqualFold(strings.TrimSpace(scope), TokenScopeWrite) {
		return TokenScopeWrite
	}
	return TokenScopeRead
}

func tokenPrefix(secret string) string {
	secret = strings.TrimSpace(secret)
	if len(secret) <= 8 {
		return secret
	}
	return secret[:8]
}

// IssueToken stores a new token record, hashing the provided secret.
// Persistence is immediate: a crash after IssueToken returns must not
// lose the record.
func (s *Store) IssueToken(name, scope, secret string) (*Token, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "token-" + strings.ToLower(ulid.Make().String())
	}
	now := time.Now().UTC()
	tok := &Token{
		ID:        strings.ToLower(ulid.Make().String()),
		Name:      name,
		Scope:     NormalizeScope(scope),
		Prefix:    tokenPrefix(secret),
		CreatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO tokens (id, name, token_hash, token_prefix, scope, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tok.ID, tok.Name, hashSecret(secret), tok.Prefix, tok.Scope, now)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// ListTokens returns every token, active and revoked, newest first.
func (s *Store) ListTokens() ([]Token, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, name, scope, token_prefix, created_at, last_used_at, revoked_at
		FROM tokens
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		var tok Token
		var lastUsed, revoked sql.NullTime
		if err := rows.Scan(&tok.ID, &tok.Name, &tok.Scope, &tok.Prefix, &tok.CreatedAt, &lastUsed, &revoked); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			ts := lastUsed.Time
			tok.LastUsedAt = &ts
		}
		if revoked.Valid {
			ts := revoked.Time
			tok.RevokedAt = &ts
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

// RevokeToken marks the token as revoked. Returns false when the token
// was already revoked or does not exist (revoking twice is a no-op).
func (s *Store) RevokeToken(id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrStoreClosed
	}
	res, err := s.db.Exec(`
		UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, time.Now().UTC(), strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Authenticate verifies a bearer secret and returns its token record.
// Fails with a structured error: missing_token when the secret is empty,
// invalid_token when no record matches, revoked_token when the matching
// record has been revoked.
func (s *Store) Authenticate(secret string) (*Token, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if strings.TrimSpace(secret) == "" {
		return nil, wharferrors.New(wharferrors.ErrCodeMissingToken, "no bearer token presented")
	}
	var tok Token
	var lastUsed, revoked sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, name, scope, token_prefix, created_at, last_used_at, revoked_at
		FROM tokens
		WHERE token_hash = ?
	`, hashSecret(secret)).Scan(&tok.ID, &tok.Name, &tok.Scope, &tok.Prefix, &tok.CreatedAt, &lastUsed, &revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, wharferrors.New(wharferrors.ErrCodeInvalidToken, "token matches no issued credential")
		}
		return nil, err
	}
	if revoked.Valid {
		return nil, wharferrors.New(wharferrors.ErrCodeRevokedToken, "token has been revoked")
	}
	if lastUsed.Valid {
		ts := lastUsed.Time
		tok.LastUsedAt = &ts
	}
	if err := s.touchToken(tok.ID); err != nil {
		return &tok, err
	}
	return &tok, nil
}

func (s *Store) touchToken(id string) error {
	_, err := s.db.Exec(`UPDATE tokens SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}
