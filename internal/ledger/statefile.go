package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rewardscope/internal/model"
)

// Store persists controller state.
type Store interface {
	Load() (*model.ControllerState, bool, error)
	Save(state *model.ControllerState) error
}

// FileStore persists controller state as a JSON file, written atomically via
// a temp file and rename so a crash mid-write never truncates the state.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*model.ControllerState, bool, error) {
	if s.path == "" {
		return model.NewControllerState(), false, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewControllerState(), false, nil
		}
		return nil, false, fmt.Errorf("read state: %w", err)
	}

	state := model.NewControllerState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, false, fmt.Errorf("parse state: %w", err)
	}
	state.EnsureMaps()
	return state, true, nil
}

func (s *FileStore) Save(state *model.ControllerState) error {
	if s.path == "" {
		return nil
	}
	if state == nil {
		return fmt.Errorf("state is nil")
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	state.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}

	return nil
}
