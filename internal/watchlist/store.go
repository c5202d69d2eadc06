// Package watchlist hands the EOD priority watchlist to the next session
package watchlist

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one force-exited position worth re-entering on a gap next session
type Entry struct {
	Code       string    `json:"code"`
	Market     string    `json:"market"`
	PriorClose float64   `json:"prior_close"`
	Score      float64   `json:"score"`
	TradingDay string    `json:"trading_day"`
	AddedAt    time.Time `json:"added_at"`
}

// Store persists the watchlist of a trading day
type Store interface {
	Save(ctx context.Context, day string, entries []Entry) error
	// Load returns nil without error when nothing was saved for day
	Load(ctx context.Context, day string) ([]Entry, error)
}

// MemoryStore keeps watchlists in process
type MemoryStore struct {
	mu   sync.RWMutex
	days map[string][]Entry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[string][]Entry)}
}

func (s *MemoryStore) Save(_ context.Context, day string, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days[day] = append([]Entry(nil), entries...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, day string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, ok := s.days[day]
	if !ok {
		return nil, nil
	}
	return append([]Entry(nil), entries...), nil
}

// Days lists the stored trading days in order
func (s *MemoryStore) Days() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	days := make([]string, 0, len(s.days))
	for d := range s.days {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}
