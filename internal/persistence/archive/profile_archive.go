// Package archive keeps the last few end-of-session snapshots of every
// profile under <data>/archives/<profile>/, with a meta.json naming the
// newest one.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cluetracker.ai/internal/persistence/snapshot"
)

// Keep is how many snapshots a profile directory retains.
const Keep = 5

type ProfileMeta struct {
	Profile       string `json:"profile"`
	SessionID     string `json:"session_id"`
	Tick          int    `json:"tick"`
	Objects       int    `json:"objects"`
	CatalogDigest string `json:"catalog_digest"`
	Snapshot      string `json:"snapshot"`
	CreatedAt     string `json:"created_at"`
}

var ErrNoArchive = errors.New("archive: no snapshot for profile")

// Dir is the archive directory of profile.
func Dir(dataDir, profile string) string {
	return filepath.Join(dataDir, "archives", safeName(profile))
}

// ArchiveProfileSnapshot copies a written snapshot into the profile's archive
// and makes it the latest one. Older snapshots beyond Keep are removed.
func ArchiveProfileSnapshot(dataDir, snapshotPath string, snap snapshot.SnapshotV1) (string, error) {
	dir := Dir(dataDir, snap.Header.Profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := ProfileMeta{
		Profile:       snap.Header.Profile,
		SessionID:     snap.Header.SessionID,
		Tick:          snap.Header.Tick,
		Objects:       len(snap.Objects),
		CatalogDigest: snap.CatalogDigest,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	tmp := filepath.Join(dir, "meta.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, filepath.Join(dir, "meta.json")); err != nil {
		return "", err
	}
	prune(dir, meta.Snapshot)
	return dst, nil
}

// Latest returns the newest archived snapshot of profile.
func Latest(dataDir, profile string) (string, ProfileMeta, error) {
	var meta ProfileMeta
	dir := Dir(dataDir, profile)
	b, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if errors.Is(err, os.ErrNotExist) {
		return "", meta, ErrNoArchive
	}
	if err != nil {
		return "", meta, err
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return "", meta, fmt.Errorf("archive meta: %w", err)
	}
	return filepath.Join(dir, meta.Snapshot), meta, nil
}

// prune removes all but the Keep most recently modified snapshots. keep is
// never removed.
func prune(dir, keep string) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	type file struct {
		name string
		mod  time.Time
	}
	var files []file
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") || e.Name() == keep {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{e.Name(), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.After(files[j].mod)
		}
		return files[i].name > files[j].name
	})
	for i, f := range files {
		if i >= Keep-1 {
			_ = os.Remove(filepath.Join(dir, f.name))
		}
	}
}

// safeName maps a profile name onto a single path element.
func safeName(profile string) string {
	if profile == "" {
		return "_default"
	}
	var b strings.Builder
	for _, r := range profile {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
