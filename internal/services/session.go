package services

import (
	"sort"
	"sync"
	"time"

	"taixiu-backend/internal/models"
)

const recentWagerLimit = 10

// Countdown thresholds announced on the snapshot while a session is open.
var warningThresholds = []time.Duration{10 * time.Second, 5 * time.Second}

// session is one betting round. All fields after mu are guarded by it; the
// wager set is frozen once status leaves Open.
type session struct {
	id       string
	scope    string
	openedAt time.Time
	closeAt  time.Time

	mu      sync.Mutex
	status  models.SessionStatus
	wagers  map[string]*models.Wager
	warned  int
	warning string
}

func newSession(scope string, openedAt time.Time, window time.Duration) *session {
	return &session{
		id:       models.GenerateSessionID(),
		scope:    scope,
		openedAt: openedAt,
		closeAt:  openedAt.Add(window),
		status:   models.SessionStatusOpen,
		wagers:   make(map[string]*models.Wager),
	}
}

// acceptingLocked reports whether wagers may still change.
func (s *session) acceptingLocked(now time.Time) bool {
	return s.status == models.SessionStatusOpen && now.Before(s.closeAt)
}

// placeLocked stores the participant's new wager state.
func (s *session) placeLocked(w models.Wager) {
	stored := w
	s.wagers[w.ParticipantID] = &stored
}

// tick advances the countdown warnings and returns the current snapshot.
func (s *session) tick(now time.Time) models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.closeAt.Sub(now)
	for s.warned < len(warningThresholds) && remaining <= warningThresholds[s.warned] {
		s.warning = formatWarning(warningThresholds[s.warned])
		s.warned++
	}
	return s.snapshotLocked(now)
}

func (s *session) snapshot(now time.Time) models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

func (s *session) snapshotLocked(now time.Time) models.SessionSnapshot {
	remaining := s.closeAt.Sub(now)
	if remaining < 0 || s.status != models.SessionStatusOpen {
		remaining = 0
	}

	totals := map[models.Side]models.SideTotal{
		models.SideHigh: {},
		models.SideLow:  {},
	}
	for _, w := range s.wagers {
		t := totals[w.Side]
		t.Amount += w.Amount
		t.Count++
		totals[w.Side] = t
	}

	return models.SessionSnapshot{
		SessionID:     s.id,
		Scope:         s.scope,
		Status:        s.status,
		OpenedAt:      s.openedAt,
		CloseAt:       s.closeAt,
		TimeRemaining: remaining,
		Totals:        totals,
		RecentWagers:  s.recentLocked(),
		Warning:       s.warning,
	}
}

// recentLocked lists live wagers by last modification, newest first.
func (s *session) recentLocked() []models.Wager {
	recent := make([]models.Wager, 0, len(s.wagers))
	for _, w := range s.wagers {
		recent = append(recent, *w)
	}
	sort.Slice(recent, func(i, j int) bool {
		if !recent[i].UpdatedAt.Equal(recent[j].UpdatedAt) {
			return recent[i].UpdatedAt.After(recent[j].UpdatedAt)
		}
		return recent[i].ParticipantID < recent[j].ParticipantID
	})
	if len(recent) > recentWagerLimit {
		recent = recent[:recentWagerLimit]
	}
	return recent
}

// freeze moves the session to Closing and returns a copy of its wagers.
func (s *session) freeze() []models.Wager {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = models.SessionStatusClosing
	wagers := make([]models.Wager, 0, len(s.wagers))
	for _, w := range s.wagers {
		wagers = append(wagers, *w)
	}
	return wagers
}

func (s *session) markSettled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.SessionStatusSettled
}

func (s *session) wager(participantID string) (models.Wager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[participantID]
	if !ok {
		return models.Wager{}, false
	}
	return *w, true
}

func formatWarning(d time.Duration) string {
	return d.String() + " remaining"
}
