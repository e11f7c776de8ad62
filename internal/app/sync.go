package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pbaille/marks/internal/remote"
)

// SyncState holds the link status of each backend and the last sync
// report, for display only
type SyncState struct {
	mu     sync.RWMutex
	checks map[string]remote.Check
	last   *remote.Report
}

func newSyncState() *SyncState {
	return &SyncState{checks: map[string]remote.Check{}}
}

// Check marks the backend as checking, probes it once and records the result
func (s *SyncState) Check(ctx context.Context, b remote.Backend, repo string) remote.Check {
	s.set(remote.Check{Backend: b.Name(), Repo: repo, Status: remote.StatusChecking, CheckedAt: time.Now()})
	c := remote.CheckStatus(ctx, b, repo)
	s.set(c)
	return c
}

func (s *SyncState) set(c remote.Check) {
	s.mu.Lock()
	s.checks[c.Backend] = c
	s.mu.Unlock()
}

// Status returns the last known state of a backend
func (s *SyncState) Status(backend string) (remote.Check, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checks[backend]
	return c, ok
}

// All returns every recorded backend state sorted by name
func (s *SyncState) All() []remote.Check {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]remote.Check, 0, len(s.checks))
	for _, c := range s.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

func (s *SyncState) record(r remote.Report) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}

// LastReport returns the most recent upload or download report
func (s *SyncState) LastReport() (remote.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return remote.Report{}, false
	}
	return *s.last, true
}
