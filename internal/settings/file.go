package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const DefaultPath = "~/.chatlens/settings.json"

// FileStore keeps settings in a JSON file, keyed the same way as the
// app_settings table.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: expandHome(path)}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadAIConfig(_ context.Context) (AIConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return AIConfig{}, err
	}
	raw, ok := all[Key]
	if !ok {
		return AIConfig{}, nil
	}
	var cfg AIConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AIConfig{}, fmt.Errorf("parse %s: %w", Key, err)
	}
	return cfg, nil
}

func (s *FileStore) SaveAIConfig(_ context.Context, cfg AIConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", Key, err)
	}
	all[Key] = raw

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	// The file holds an API key.
	return os.WriteFile(s.path, data, 0o600)
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	all := map[string]json.RawMessage{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return all, nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
