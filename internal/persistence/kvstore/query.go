package kvstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"cluetracker.ai/internal/sim/tracking/engine"
)

type SessionInfo struct {
	SessionID string `json:"session_id"`
	Profile   string `json:"profile"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	LastTick  int    `json:"last_tick"`
}

// Sessions lists the most recent sessions first.
func (s *Store) Sessions(limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT session_id, profile, started_at, ended_at, last_tick FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionInfo
	for rows.Next() {
		var (
			si    SessionInfo
			ended sql.NullString
		)
		if err := rows.Scan(&si.SessionID, &si.Profile, &si.StartedAt, &ended, &si.LastTick); err != nil {
			return nil, err
		}
		si.EndedAt = ended.String
		out = append(out, si)
	}
	return out, rows.Err()
}

// Ticks returns the recorded stats for sessionID in tick order, starting at
// fromTick.
func (s *Store) Ticks(sessionID string, fromTick, limit int) ([]engine.TickStats, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT raw_json FROM ticks WHERE session_id = ? AND tick >= ? ORDER BY tick LIMIT ?`, sessionID, fromTick, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()
	var out []engine.TickStats
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var st engine.TickStats
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode tick row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) CatalogDigest(name string) (string, bool, error) {
	var d string
	err := s.db.QueryRow(`SELECT digest FROM catalogs WHERE name = ?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}
