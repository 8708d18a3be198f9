package devnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ConfigStore persists the account list of a project.
type ConfigStore struct {
	path string
}

// NewConfigStore returns a store for the project's account file.
func NewConfigStore(project Project) *ConfigStore {
	return &ConfigStore{path: project.AccountsPath()}
}

// Path of the account file.
func (s *ConfigStore) Path() string {
	return s.path
}

// Load reads the persisted accounts. A missing file yields an empty set.
func (s *ConfigStore) Load() (AccountSet, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	var set AccountSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	for i := range set {
		set[i].Index = i
	}
	return set, nil
}

// Save writes the full set atomically: the data goes to a temporary file in
// the same directory which is then renamed over the account file.
func (s *ConfigStore) Save(set AccountSet) (err error) {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+AccountsFileName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary account file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temporary account file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temporary account file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temporary account file: %w", err)
	}
	// mnemonics are secrets, even test ones.
	if err = os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod temporary account file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
