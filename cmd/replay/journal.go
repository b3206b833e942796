package main

import (
	"fmt"

	plog "cluetracker.ai/internal/persistence/log"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tuning"
)

type replayResult struct {
	sess    *session.Session
	files   int
	entries int
	ticks   int
}

// replayJournal rebuilds a session from its journal, checking the stats of
// every closed tick against the recorded ones.
func replayJournal(dir, sessionID string, cats *catalogs.Catalogs, tune tuning.Tuning) (replayResult, error) {
	var res replayResult
	if sessionID == "" {
		return res, fmt.Errorf("missing session id")
	}
	files, err := plog.ListJournal(dir, sessionID)
	if err != nil {
		return res, err
	}
	if len(files) == 0 {
		return res, fmt.Errorf("no journal files for session %s in %s", sessionID, dir)
	}
	res.files = len(files)

	for _, path := range files {
		err := plog.ReadJournal(path, func(e session.JournalEntry) error {
			if res.sess == nil {
				if e.Kind != session.EntryStart {
					return fmt.Errorf("journal for %s does not begin with a start entry", sessionID)
				}
				s, err := session.New(session.Config{
					ID:       sessionID,
					Profile:  e.Profile,
					Tuning:   tune,
					Contents: cats.Contents,
				})
				if err != nil {
					return err
				}
				res.sess = s
			}
			if err := res.sess.Replay(e); err != nil {
				return err
			}
			res.entries++
			if e.Stats != nil {
				res.ticks++
			}
			return nil
		})
		if err != nil {
			if res.sess != nil {
				_ = res.sess.Close()
			}
			return res, err
		}
	}
	if res.sess == nil {
		return res, fmt.Errorf("journal for %s is empty", sessionID)
	}
	_ = res.sess.Close()
	return res, nil
}
