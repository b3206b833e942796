package main

import (
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cluetracker.ai/internal/persistence/archive"
	"cluetracker.ai/internal/persistence/kvstore"
	"cluetracker.ai/internal/persistence/snapshot"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tuning"
)

func TestLoadConfig_EnvThenFlags(t *testing.T) {
	cfg, err := loadConfig([]string{"-addr", ":9000"}, map[string]string{
		"CT_ADDR":       ":7000",
		"CT_DATA":       "/tmp/ct",
		"CT_CONFIGS":    "/etc/ct",
		"CT_DISABLE_DB": "true",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("flag should override env: addr=%q", cfg.Addr)
	}
	if cfg.DataDir != "/tmp/ct" || !cfg.DisableDB {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.TuningPath != filepath.Join("/etc/ct", "tuning.yaml") {
		t.Fatalf("tuning path: %q", cfg.TuningPath)
	}
	if !cfg.EnableObserver {
		t.Fatalf("observer should default on")
	}
}

func TestLoadConfig_BadEnv(t *testing.T) {
	if _, err := loadConfig(nil, map[string]string{"CT_DISABLE_DB": "maybe"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func testRuntime(t *testing.T, store *kvstore.Store) *runtime {
	t.Helper()
	c, err := catalogs.NewContentCatalog([]catalogs.ContentDef{
		{ID: 2677, ObjectTypeID: 2677, Tier: "easy", Text: "Dig near the fountain"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return &runtime{
		dataDir: t.TempDir(),
		tune:    tuning.Defaults(),
		cats:    &catalogs.Catalogs{Contents: c},
		store:   store,
		logger:  log.New(io.Discard, "", 0),
	}
}

func TestRuntime_CloseWritesSnapshot(t *testing.T) {
	rt := testRuntime(t, nil)
	sess, closer, err := rt.open("S1", "main")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := sess.Apply([]byte(`{"type":"TICK","tick":5,"player":[3200,3200,0]}`)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("closer: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(snapshot.Path(rt.dataDir, "S1", 5))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Header.Profile != "main" || len(snap.TrackedTypes) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if rt.opened.Load() != 1 || rt.snapshots.Load() != 1 {
		t.Fatalf("counters: opened=%d snapshots=%d", rt.opened.Load(), rt.snapshots.Load())
	}
	ents, err := os.ReadDir(filepath.Join(rt.dataDir, "journal"))
	if err != nil || len(ents) == 0 {
		t.Fatalf("expected a journal file: %v", err)
	}
	if _, meta, err := archive.Latest(rt.dataDir, "main"); err != nil || meta.Tick != 5 {
		t.Fatalf("archive: %+v %v", meta, err)
	}
}

func TestRuntime_UnopenedSessionLeavesArchiveAlone(t *testing.T) {
	rt := testRuntime(t, nil)
	sess, closer, err := rt.open("S1", "main")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = sess.Close()
	if err := closer.Close(); err != nil {
		t.Fatalf("closer: %v", err)
	}
	if _, _, err := archive.Latest(rt.dataDir, "main"); err != archive.ErrNoArchive {
		t.Fatalf("refused session must not archive: %v", err)
	}
	if rt.snapshots.Load() != 0 {
		t.Fatalf("unexpected snapshot")
	}
}

func TestRuntime_RecordsSessionInStore(t *testing.T) {
	store, err := kvstore.OpenSQLite(filepath.Join(t.TempDir(), "tracker.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	rt := testRuntime(t, store)
	sess, closer, err := rt.open("S2", "alt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = sess.Close()
	if err := closer.Close(); err != nil {
		t.Fatalf("closer: %v", err)
	}
	store.Flush()

	infos, err := store.Sessions(10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(infos) != 1 || infos[0].SessionID != "S2" || infos[0].Profile != "alt" || infos[0].EndedAt == "" {
		t.Fatalf("unexpected sessions: %+v", infos)
	}
	if _, ok, _ := store.Get(session.StateKey("alt")); !ok {
		t.Fatalf("expected saved ground state")
	}
}

func TestMetrics(t *testing.T) {
	rt := testRuntime(t, nil)
	rt.opened.Add(3)
	rec := httptest.NewRecorder()
	writeMetrics(rec, rt, session.NewRegistry())
	body := rec.Body.String()
	for _, want := range []string{
		"cluetracker_sessions_active 0",
		"cluetracker_sessions_opened_total 3",
		"cluetracker_catalog_contents 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	if !isLoopbackRemote("127.0.0.1:1234") || !isLoopbackRemote("[::1]:80") {
		t.Fatalf("loopback not recognised")
	}
	if isLoopbackRemote("10.0.0.1:80") {
		t.Fatalf("non-loopback accepted")
	}
}

func TestRuntime_DisabledDBRestoresFromArchive(t *testing.T) {
	rt := testRuntime(t, nil)
	sess, closer, err := rt.open("S1", "main")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, msg := range []string{
		`{"type":"TICK","tick":1,"player":[3200,3200,0]}`,
		`{"type":"INV_ADDED","type_id":2677,"content_ids":[2677]}`,
		`{"type":"TICK","tick":2,"player":[3200,3200,0]}`,
		`{"type":"INV_REMOVED","type_id":2677}`,
		`{"type":"SPAWN","ref":1,"type_id":2677,"pos":[3201,3200,0],"countdown":300}`,
		`{"type":"TICK","tick":3,"player":[3200,3200,0]}`,
	} {
		if _, err := sess.Apply([]byte(msg)); err != nil {
			t.Fatalf("apply %s: %v", msg, err)
		}
	}
	_ = sess.Close()
	if err := closer.Close(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	next, closer2, err := rt.open("S2", "main")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closer2.Close()
	res, err := next.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Restored != 1 || len(next.Engine().Records()) != 1 {
		t.Fatalf("restored=%d records=%d", res.Restored, len(next.Engine().Records()))
	}

	other, closer3, err := rt.open("S3", "alt")
	if err != nil {
		t.Fatalf("open alt: %v", err)
	}
	defer closer3.Close()
	if res, _ := other.Start(); res.Restored != 0 {
		t.Fatalf("profiles must not share state: %+v", res)
	}
}
