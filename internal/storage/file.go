package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"icarus/internal/models"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	GlobalCounterFile = "global_usage_counter.json"
	UserCounterFile   = "user_usage_counter.json"
)

// FileStore keeps the usage counters in two flat JSON files.
// A missing file reads as the empty state.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create counter directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("counter directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("counter path %s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) LoadGlobal(ctx context.Context) (*models.CounterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec models.CounterRecord
	found, err := s.readJSON(GlobalCounterFile, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) SaveGlobal(ctx context.Context, rec models.CounterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeJSON(GlobalCounterFile, rec)
}

// LoadUser returns nil when the session has no stored record.
func (s *FileStore) LoadUser(ctx context.Context, sessionID string) (*models.CounterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	users, err := s.readUsers()
	if err != nil {
		return nil, err
	}
	rec, ok := users[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SaveUser writes the session's record. Entries dated differently from rec
// are dropped from the file.
func (s *FileStore) SaveUser(ctx context.Context, sessionID string, rec models.CounterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	users, err := s.readUsers()
	if err != nil {
		return err
	}
	for id, other := range users {
		if other.Date != rec.Date {
			delete(users, id)
		}
	}
	users[sessionID] = rec
	return s.writeJSON(UserCounterFile, users)
}

func (s *FileStore) readUsers() (models.UserCounters, error) {
	users := models.UserCounters{}
	if _, err := s.readJSON(UserCounterFile, &users); err != nil {
		return nil, err
	}
	if users == nil {
		users = models.UserCounters{}
	}
	return users, nil
}

func (s *FileStore) readJSON(name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return true, nil
}

// writeJSON replaces the file atomically so readers never see a partial write.
func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
