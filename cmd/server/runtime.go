package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"cluetracker.ai/internal/persistence/archive"
	"cluetracker.ai/internal/persistence/kvstore"
	plog "cluetracker.ai/internal/persistence/log"
	"cluetracker.ai/internal/persistence/snapshot"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tracking/engine"
	"cluetracker.ai/internal/sim/tuning"
)

// runtime builds sessions for the ws server and owns what they share.
type runtime struct {
	dataDir string
	tune    tuning.Tuning
	cats    *catalogs.Catalogs
	store   *kvstore.Store // nil when the db is disabled
	logger  *log.Logger

	opened    atomic.Int64
	snapshots atomic.Int64
}

func (rt *runtime) open(id, profile string) (*session.Session, io.Closer, error) {
	journal := plog.NewJournalLogger(rt.dataDir, id)
	cfg := session.Config{
		ID:       id,
		Profile:  profile,
		Tuning:   rt.tune,
		Contents: rt.cats.Contents,
		StateKey: session.StateKey(profile),
		Journal:  journal,
		Logger:   rt.logger,
	}
	if rt.store != nil {
		cfg.Store = rt.store
		cfg.Index = rt.store
	} else {
		cfg.Initial = rt.archivedState(profile)
	}
	sess, err := session.New(cfg)
	if err != nil {
		_ = journal.Close()
		return nil, nil, err
	}
	if rt.store != nil {
		rt.store.RecordSessionStart(id, profile)
	}
	rt.opened.Add(1)
	return sess, &sessionCloser{rt: rt, sess: sess, profile: profile, journal: journal}, nil
}

// archivedState is the ground state of profile's newest archived snapshot.
// Without a db it is the only state that survives a restart.
func (rt *runtime) archivedState(profile string) []engine.Record {
	path, meta, err := archive.Latest(rt.dataDir, profile)
	if err != nil {
		if !errors.Is(err, archive.ErrNoArchive) {
			rt.logger.Printf("archive %s: %v", profile, err)
		}
		return nil
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		rt.logger.Printf("archive %s: %v", profile, err)
		return nil
	}
	if meta.CatalogDigest != "" && meta.CatalogDigest != rt.cats.Contents.Digest {
		rt.logger.Printf("archive %s: catalog changed since tick %d snapshot", profile, meta.Tick)
	}
	return snap.Objects
}

type sessionCloser struct {
	rt      *runtime
	sess    *session.Session
	profile string
	journal *plog.JournalLogger
}

// Close flushes the journal and writes the final snapshot. It runs after the
// session loop has returned. A session that never saw a TICK has nothing
// worth archiving.
func (c *sessionCloser) Close() error {
	jerr := c.journal.Close()
	if !c.sess.Opened() {
		if c.rt.store != nil {
			c.rt.store.RecordSessionEnd(c.sess.ID(), c.profile, 0)
		}
		return jerr
	}

	snap := c.sess.Snapshot()
	tick := snap.Header.Tick
	path := snapshot.Path(c.rt.dataDir, c.sess.ID(), tick)
	serr := snapshot.WriteSnapshot(path, snap)
	if serr == nil {
		c.rt.snapshots.Add(1)
		if _, err := archive.ArchiveProfileSnapshot(c.rt.dataDir, path, snap); err != nil {
			c.rt.logger.Printf("archive %s: %v", path, err)
		}
	}
	if c.rt.store != nil {
		if serr == nil {
			c.rt.store.RecordSnapshot(c.sess.ID(), tick, path, len(snap.Objects))
		}
		c.rt.store.RecordSessionEnd(c.sess.ID(), c.profile, tick)
	}
	if serr != nil {
		return fmt.Errorf("write snapshot: %w", serr)
	}
	if jerr != nil {
		return fmt.Errorf("close journal: %w", jerr)
	}
	return nil
}
