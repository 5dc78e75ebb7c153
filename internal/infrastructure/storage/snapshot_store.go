package storage

import (
	"sync/atomic"
	"time"

	"github.com/kerim-dauren/attribution-core/internal/domain"
)

// SnapshotStore holds the active blacklist snapshot. Readers load a pointer
// and never block; writers build a complete snapshot first and swap it in.
type SnapshotStore struct {
	current atomic.Pointer[domain.BlacklistSnapshot]

	lastUpdate   atomic.Int64
	replacements atomic.Int64
}

func NewSnapshotStore(initial *domain.BlacklistSnapshot) *SnapshotStore {
	if initial == nil {
		initial = domain.NewBlacklistSnapshot(0, nil)
	}

	ss := &SnapshotStore{}
	ss.current.Store(initial)
	ss.lastUpdate.Store(time.Now().UnixNano())
	return ss
}

func (ss *SnapshotStore) Current() *domain.BlacklistSnapshot {
	return ss.current.Load()
}

// Replace installs next only if its version is strictly greater than the
// active one. It reports whether the swap happened.
func (ss *SnapshotStore) Replace(next *domain.BlacklistSnapshot) bool {
	if next == nil {
		return false
	}

	for {
		cur := ss.current.Load()
		if next.Version() <= cur.Version() {
			return false
		}

		if ss.current.CompareAndSwap(cur, next) {
			ss.lastUpdate.Store(time.Now().UnixNano())
			ss.replacements.Add(1)
			return true
		}
	}
}

func (ss *SnapshotStore) Stats() StoreStats {
	cur := ss.current.Load()

	return StoreStats{
		Version:      cur.Version(),
		Patterns:     int64(cur.Len()),
		Replacements: ss.replacements.Load(),
		LastUpdate:   time.Unix(0, ss.lastUpdate.Load()),
	}
}

type StoreStats struct {
	Version      int64
	Patterns     int64
	Replacements int64
	LastUpdate   time.Time
}
