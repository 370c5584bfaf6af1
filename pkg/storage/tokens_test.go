package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "wharf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIssueAndAuthenticate(t *testing.T) {
	store := newTestStore(t)

	secret, err := GenerateTokenValue()
	require.NoError(t, err)

	tok, err := store.IssueToken("ci", TokenScopeWrite, secret)
	require.NoError(t, err)
	require.NotEmpty(t, tok.ID)
	require.Equal(t, TokenScopeWrite, tok.Scope)
	require.Equal(t, secret[:8], tok.Prefix)
	require.False(t, tok.Revoked())

	got, err := store.Authenticate(secret)
	require.NoError(t, err)
	require.Equal(t, tok.ID, got.ID)
	require.Equal(t, TokenScopeWrite, got.Scope)
}

func TestAuthenticateFailures(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Authenticate("")
	require.Equal(t, wharferrors.ErrCodeMissingToken, wharferrors.CodeOf(err))

	_, err = store.Authenticate("deadbeefdeadbeefdeadbeefdeadbeef")
	require.Equal(t, wharferrors.ErrCodeInvalidToken, wharferrors.CodeOf(err))
}

func TestRevocationIsPermanent(t *testing.T) {
	store := newTestStore(t)

	secret, err := GenerateTokenValue()
	require.NoError(t, err)
	tok, err := store.IssueToken("laptop", TokenScopeRead, secret)
	require.NoError(t, err)

	revoked, err := store.RevokeToken(tok.ID)
	require.NoError(t, err)
	require.True(t, revoked)

	// Every subsequent authenticate fails with revoked_token.
	for i := 0; i < 3; i++ {
		_, err = store.Authenticate(secret)
		require.Equal(t, wharferrors.ErrCodeRevokedToken, wharferrors.CodeOf(err))
	}

	// Revoking twice is a no-op returning false.
	revoked, err = store.RevokeToken(tok.ID)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestListSeparatesActiveAndRevoked(t *testing.T) {
	store := newTestStore(t)

	s1, _ := GenerateTokenValue()
	s2, _ := GenerateTokenValue()
	active, err := store.IssueToken("active", TokenScopeRead, s1)
	require.NoError(t, err)
	dead, err := store.IssueToken("dead", TokenScopeWrite, s2)
	require.NoError(t, err)
	_, err = store.RevokeToken(dead.ID)
	require.NoError(t, err)

	tokens, err := store.ListTokens()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	byID := make(map[string]Token, 2)
	for _, tok := range tokens {
		byID[tok.ID] = tok
	}
	activeTok := byID[active.ID]
	deadTok := byID[dead.ID]
	require.False(t, activeTok.Revoked())
	require.True(t, deadTok.Revoked())
}

func TestNormalizeScope(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"write", TokenScopeWrite},
		{"WRITE", TokenScopeWrite},
		{"read", TokenScopeRead},
		{"", TokenScopeRead},
		{"admin", TokenScopeRead},
	}
	for _, tt := range tests {
		if got := NormalizeScope(tt.in); got != tt.want {
			t.Errorf("NormalizeScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllowWritesSetting(t *testing.T) {
	store := newTestStore(t)

	allowed, err := store.AllowWrites()
	require.NoError(t, err)
	require.False(t, allowed, "writes must default to disabled")

	require.NoError(t, store.SetAllowWrites(true))
	allowed, err = store.AllowWrites()
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, store.SetAllowWrites(false))
	allowed, err = store.AllowWrites()
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestAuditLog(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordAuditLog("operator", TokenScopeWrite, "token.issue", map[string]any{"id": "abc"}))
	entries, err := store.ListAuditLogs(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "token.issue", entries[0].Action)
	require.Contains(t, entries[0].Payload, "abc")
}
