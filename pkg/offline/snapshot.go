package offline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/store"
)

const snapshotKey = "active_room"

// Snapshot is the persisted state of the active room.
type Snapshot struct {
	Room     protocol.Room      `json:"room"`
	Messages []protocol.Message `json:"messages"`
	SavedAt  time.Time          `json:"savedAt"`
}

// Snapshots reads and writes the single active-room snapshot.
type Snapshots struct {
	kv store.KV
}

func NewSnapshots(kv store.KV) *Snapshots {
	return &Snapshots{kv: kv}
}

// Save overwrites the snapshot. Errors wrap store.ErrQuotaExceeded when the log outgrows the store.
func (s *Snapshots) Save(room protocol.Room, messages []protocol.Message) error {
	raw, err := json.Marshal(Snapshot{Room: room, Messages: messages, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.kv.Set(snapshotKey, string(raw)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot, or nil when none exists.
func (s *Snapshots) Load() (*Snapshot, error) {
	raw, ok, err := s.kv.Get(snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Snapshots) Clear() error {
	if err := s.kv.Remove(snapshotKey); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}
