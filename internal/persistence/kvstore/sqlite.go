// Package kvstore is the durable side of a session: the opaque key-value
// table the engine saves its ground state into, plus a secondary index of
// sessions, per-tick stats and exported snapshots.
package kvstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tuning"
)

var ErrClosed = errors.New("kvstore closed")

type Store struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSession
	reqSnapshot
	reqFlush
	reqGet
	reqSet
)

type req struct {
	kind reqKind

	tick     tickRow
	session  sessionRow
	snapshot snapshotRow
	done     chan struct{}

	key, value string
	reply      chan kvReply
}

type kvReply struct {
	value string
	ok    bool
	err   error
}

type tickRow struct {
	SessionID string
	Stats     engine.TickStats
}

type sessionRow struct {
	SessionID string
	Profile   string
	StartedAt string
	EndedAt   string
	LastTick  int
}

type snapshotRow struct {
	SessionID string
	Tick      int
	Path      string
	Objects   int
}

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			profile TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			last_tick INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			tracked INTEGER NOT NULL,
			tiles INTEGER NOT NULL,
			unknowns INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (session_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			objects INTEGER NOT NULL,
			PRIMARY KEY (session_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Get and Set make the store usable as the engine's opaque preference store.
// Both are synchronous and run on the writer goroutine, which owns the only
// connection; a Set is committed before it returns.
func (s *Store) Get(key string) (string, bool, error) {
	r, err := s.call(req{kind: reqGet, key: key})
	if err != nil {
		return "", false, err
	}
	return r.value, r.ok, r.err
}

func (s *Store) Set(key, value string) error {
	r, err := s.call(req{kind: reqSet, key: key, value: value})
	if err != nil {
		return err
	}
	return r.err
}

func (s *Store) call(r req) (kvReply, error) {
	if s == nil || s.closed.Load() {
		return kvReply{}, ErrClosed
	}
	r.reply = make(chan kvReply, 1)
	s.ch <- r
	return <-r.reply, nil
}

func (s *Store) WriteTick(sessionID string, st engine.TickStats) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: tickRow{SessionID: sessionID, Stats: st}}:
	default:
	}
	return nil
}

func (s *Store) RecordSessionStart(sessionID, profile string) {
	s.recordSession(sessionRow{
		SessionID: sessionID,
		Profile:   profile,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Store) RecordSessionEnd(sessionID, profile string, lastTick int) {
	s.recordSession(sessionRow{
		SessionID: sessionID,
		Profile:   profile,
		EndedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		LastTick:  lastTick,
	})
}

func (s *Store) recordSession(r sessionRow) {
	if s == nil || s.closed.Load() || r.SessionID == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: r}:
	default:
	}
}

func (s *Store) RecordSnapshot(sessionID string, tick int, path string, objects int) {
	if s == nil || s.closed.Load() || path == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: snapshotRow{SessionID: sessionID, Tick: tick, Path: path, Objects: objects}}:
	default:
	}
}

// UpsertCatalogs stores the catalog and tuning actually in effect, so a
// state row can be traced back to the data that produced it.
func (s *Store) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type row struct {
		name   string
		digest string
		json   []byte
	}
	var rows []row
	if configDir != "" && cats != nil {
		if b, err := os.ReadFile(filepath.Join(configDir, "contents.json")); err == nil {
			rows = append(rows, row{name: "contents", digest: cats.Contents.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, row{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Flush blocks until every queued write has been committed.
func (s *Store) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

func (s *Store) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(session_id,tick,tracked,tiles,unknowns,raw_json) VALUES(?,?,?,?,?,?)`)
	insertSessionStart, _ := s.db.Prepare(`INSERT OR IGNORE INTO sessions(session_id,profile,started_at) VALUES(?,?,?)`)
	updateSessionEnd, _ := s.db.Prepare(`UPDATE sessions SET ended_at = ?, last_tick = ? WHERE session_id = ?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(session_id,tick,path,objects) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertSessionStart, updateSessionEnd, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	query := func(q string, args ...any) *sql.Row {
		if tx != nil {
			return tx.QueryRow(q, args...)
		}
		return s.db.QueryRow(q, args...)
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}
		if !ok {
			break
		}
		switch r.kind {
		case reqFlush:
			commit()
			close(r.done)
			continue
		case reqGet:
			var rep kvReply
			err := query(`SELECT value FROM kv WHERE key = ?`, r.key).Scan(&rep.value)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				rep.err = fmt.Errorf("kv get %q: %w", r.key, err)
			default:
				rep.ok = true
			}
			r.reply <- rep
			continue
		case reqSet:
			var rep kvReply
			now := time.Now().UTC().Format(time.RFC3339Nano)
			begin()
			if tx == nil {
				rep.err = fmt.Errorf("kv set %q: begin failed", r.key)
			} else if _, err := tx.Exec(`INSERT OR REPLACE INTO kv(key,value,updated_at) VALUES(?,?,?)`, r.key, r.value, now); err != nil {
				rollback()
				rep.err = fmt.Errorf("kv set %q: %w", r.key, err)
			} else if err := tx.Commit(); err != nil {
				tx = nil
				rep.err = fmt.Errorf("kv set %q: commit: %w", r.key, err)
			} else {
				tx = nil
				opCount = 0
				lastCommit = time.Now()
			}
			r.reply <- rep
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			raw, _ := json.Marshal(r.tick.Stats)
			exec(insertTick, r.tick.SessionID, r.tick.Stats.Tick, r.tick.Stats.Tracked, r.tick.Stats.Tiles, r.tick.Stats.Unknowns, string(raw))
		case reqSession:
			se := r.session
			if se.StartedAt != "" {
				exec(insertSessionStart, se.SessionID, se.Profile, se.StartedAt)
			} else {
				exec(updateSessionEnd, se.EndedAt, se.LastTick, se.SessionID)
			}
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.SessionID, sn.Tick, sn.Path, sn.Objects)
		}
		if tx != nil && opCount >= commitEvery {
			commit()
		}
	}

	commit()
}
