// Package history keeps the capped, most-recent-first log of station analyses.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rhernandezbas/Betelgeus-Backend/pkg/models"
)

// MaxEntries is the number of entries retained; older ones are evicted.
const MaxEntries = 50

// Slot is a single durable key-value cell holding the serialized history.
type Slot interface {
	Load(ctx context.Context) ([]byte, bool, error)
	Store(ctx context.Context, data []byte) error
}

// Store is the history log. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	slot   Slot
	lastID int64
}

// NewStore creates a history store persisted in slot.
func NewStore(slot Slot) *Store {
	return &Store{slot: slot}
}

// NewEntry derives a history entry from an analysis result. IDs are creation
// times in unix milliseconds, bumped past the last issued ID so they stay unique.
func (s *Store) NewEntry(result *models.AnalysisResult, now time.Time) models.HistoryEntry {
	s.mu.Lock()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	s.mu.Unlock()

	return models.HistoryEntry{
		ID:          id,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		IP:          result.IP,
		Model:       result.IdentifiedModel,
		Status:      result.Status,
		LLMAnalysis: result.LLMAnalysis,
	}
}

// Append inserts entry at the front, drops entries beyond MaxEntries and
// persists the result.
func (s *Store) Append(ctx context.Context, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(entries) >= MaxEntries {
		entries = entries[:MaxEntries-1]
	}
	entries = append([]models.HistoryEntry{entry}, entries...)
	if entry.ID > s.lastID {
		s.lastID = entry.ID
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := s.slot.Store(ctx, data); err != nil {
		return fmt.Errorf("persisting history: %w", err)
	}
	return nil
}

// LoadAll returns the history, newest first. Missing or unreadable data
// yields an empty slice.
func (s *Store) LoadAll(ctx context.Context) []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		slog.Warn("history slot unavailable", "error", err)
		return []models.HistoryEntry{}
	}
	return entries
}

// load reads the slot. A read failure is returned so callers never overwrite
// history they could not see; corrupt data is discarded.
func (s *Store) load(ctx context.Context) ([]models.HistoryEntry, error) {
	data, found, err := s.slot.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !found || len(data) == 0 {
		return []models.HistoryEntry{}, nil
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("discarding corrupt history", "error", err)
		return []models.HistoryEntry{}, nil
	}
	if entries == nil {
		return []models.HistoryEntry{}, nil
	}
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	return entries, nil
}
