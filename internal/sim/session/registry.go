package session

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks the running session of each profile. A profile's ground
// state has exactly one writer, so a second connection for the same profile
// is refused while the first is alive.
type Registry struct {
	mu        sync.Mutex
	byProfile map[string]entry
}

type entry struct {
	s       *Session
	started time.Time
}

type Active struct {
	SessionID string    `json:"session_id"`
	Profile   string    `json:"profile"`
	Started   time.Time `json:"started"`
}

func NewRegistry() *Registry {
	return &Registry{byProfile: map[string]entry{}}
}

// Claim registers s for profile. It reports false if the profile is busy.
func (r *Registry) Claim(profile string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.byProfile[profile]; busy {
		return false
	}
	r.byProfile[profile] = entry{s: s, started: time.Now().UTC()}
	return true
}

// Release removes s; a newer session for the same profile is left alone.
func (r *Registry) Release(profile string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byProfile[profile]; ok && e.s == s {
		delete(r.byProfile, profile)
	}
}

func (r *Registry) Lookup(profile string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byProfile[profile]
	return e.s, ok
}

func (r *Registry) List() []Active {
	r.mu.Lock()
	out := make([]Active, 0, len(r.byProfile))
	for p, e := range r.byProfile {
		out = append(out, Active{SessionID: e.s.ID(), Profile: p, Started: e.started})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}
