package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xcawolfe-amzn/switchboard/internal/lock"
)

// Snapshot is the single persisted state file. All timestamps are
// serialized as ISO-8601 UTC by virtue of time.Time JSON marshaling on
// UTC values; loaders must not assume local time.
type Snapshot struct {
	Sessions    []*Session         `json:"sessions"`
	EMTopic     *EMTopic           `json:"em_topic,omitempty"`
	ParentWakes []ParentWakeRecord `json:"parent_wake_registrations"`
	Reminders   []RemindRecord     `json:"reminders"`
}

// Store reads and writes the snapshot file under an advisory flock.
type Store struct {
	path     string
	lockPath string
}

// NewStore creates a snapshot store.
func NewStore(path, lockPath string) *Store {
	return &Store{path: path, lockPath: lockPath}
}

// Load reads the snapshot. A missing file yields an empty snapshot. A
// corrupt file is quarantined next to the original and an empty snapshot
// is returned with the quarantine path, so startup can proceed with a
// warning instead of crash-looping on bad state.
func (st *Store) Load() (*Snapshot, string, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, "", nil
		}
		return nil, "", fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt-%d", st.path, time.Now().Unix())
		if renameErr := os.Rename(st.path, quarantine); renameErr != nil {
			return nil, "", fmt.Errorf("snapshot corrupt and quarantine failed: %v (parse error: %w)", renameErr, err)
		}
		return &Snapshot{}, quarantine, nil
	}
	return &snap, "", nil
}

// Save writes the snapshot atomically (temp file + rename) while holding
// the advisory flock for the duration of the write.
func (st *Store) Save(snap *Snapshot) error {
	release, err := lock.FlockAcquire(st.lockPath)
	if err != nil {
		return fmt.Errorf("locking snapshot: %w", err)
	}
	defer release()

	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return fmt.Errorf("renaming snapshot: %w", err)
	}
	return nil
}
