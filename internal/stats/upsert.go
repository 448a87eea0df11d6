// Package stats counts what score upserts did to the store.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// UpsertStats tracks inserted, updated and stale score writes.
// All operations are thread-safe.
type UpsertStats struct {
	inserted atomic.Int64
	updated  atomic.Int64
	stale    atomic.Int64
}

// Snapshot is a point-in-time copy of UpsertStats.
type Snapshot struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Stale    int64 `json:"stale"`
}

// Written is the number of rows that reached the store.
func (s Snapshot) Written() int64 {
	return s.Inserted + s.Updated
}

// Sub returns the counts accumulated since prev.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{
		Inserted: s.Inserted - prev.Inserted,
		Updated:  s.Updated - prev.Updated,
		Stale:    s.Stale - prev.Stale,
	}
}

// NewUpsertStats creates zeroed counters.
func NewUpsertStats() *UpsertStats {
	return &UpsertStats{}
}

// RecordInsert counts a new row.
func (s *UpsertStats) RecordInsert() { s.inserted.Add(1) }

// RecordUpdate counts a replaced row.
func (s *UpsertStats) RecordUpdate() { s.updated.Add(1) }

// RecordStale counts a write ignored because a newer row was stored.
func (s *UpsertStats) RecordStale() { s.stale.Add(1) }

// Snapshot returns the current counts.
func (s *UpsertStats) Snapshot() Snapshot {
	return Snapshot{
		Inserted: s.inserted.Load(),
		Updated:  s.updated.Load(),
		Stale:    s.stale.Load(),
	}
}

// Reset zeroes every counter.
func (s *UpsertStats) Reset() {
	s.inserted.Store(0)
	s.updated.Store(0)
	s.stale.Store(0)
}

func (s *UpsertStats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("inserted=%d updated=%d stale=%d written=%d",
		snap.Inserted, snap.Updated, snap.Stale, snap.Written())
}

// LogSummary logs the counters at Info under the given entity name.
func (s *UpsertStats) LogSummary(logger *slog.Logger, entity string) {
	snap := s.Snapshot()
	logger.Info("upsert statistics",
		"entity", entity,
		"inserted", snap.Inserted,
		"updated", snap.Updated,
		"stale", snap.Stale,
		"written", snap.Written(),
	)
}
