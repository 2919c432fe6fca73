package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const sessionFile = ".fints_session"

// FileStore keeps one file per account under dir: .fints_session for the
// default account and .fints_session.<name> for the rest.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the state file for account.
func (s *FileStore) Path(account string) string {
	if account == "" || account == "default" {
		return filepath.Join(s.dir, sessionFile)
	}
	return filepath.Join(s.dir, sessionFile+"."+account)
}

// Load returns nil without error when nothing was saved yet.
func (s *FileStore) Load(account string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.Path(account))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return data, nil
}

func (s *FileStore) Save(account string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.Path(account)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(account)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}
