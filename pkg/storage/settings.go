package storage

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// SettingAllowWrites gates every mutating gateway operation independent of
// token scope. Read fresh on each request, never cached.
const SettingAllowWrites = "gateway.allow_writes"

// GetSetting loads a single setting value, empty when unset.
func (s *Store) GetSetting(key string) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrStoreClosed
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, strings.TrimSpace(key)).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetSetting upserts a setting value. Empty value deletes the row.
func (s *Store) SetSetting(key, value string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	value = strings.TrimSpace(value)
	if value == "" {
		_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// AllowWrites reports the current write gate. Missing means disabled.
func (s *Store) AllowWrites() (bool, error) {
	raw, err := s.GetSetting(SettingAllowWrites)
	if err != nil {
		return false, err
	}
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}

// SetAllowWrites flips the global write gate.
func (s *Store) SetAllowWrites(enabled bool) error {
	return s.SetSetting(SettingAllowWrites, strconv.FormatBool(enabled))
}

// RecordAuditLog stores an operator action for later review.
func (s *Store) RecordAuditLog(actor, scope, action string, payload any) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	data := ""
	if payload != nil {
		if buf, err := json.Marshal(payload); err == nil {
			data = string(buf)
		}
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_logs (actor, scope, action, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, strings.TrimSpace(actor), strings.TrimSpace(scope), strings.TrimSpace(action), data, time.Now().UTC())
	return err
}

// AuditEntry is a stored operator action.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Scope     string    `json:"scope"`
	Action    string    `json:"action"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListAuditLogs returns the newest entries, bounded by limit.
func (s *Store) ListAuditLogs(limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, actor, scope, action, payload, created_at
		FROM audit_logs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Scope, &e.Action, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
