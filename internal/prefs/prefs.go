// Package prefs persists the small set of values that must survive a restart:
// the cache checkpoint, the open repository and how to reach its remote.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/gitnote/internal/gitrepo"
)

const formatVersion = 1

// CredentialType selects how the remote is authenticated.
type CredentialType string

const (
	CredentialNone  CredentialType = "none"
	CredentialBasic CredentialType = "basic"
	CredentialSSH   CredentialType = "ssh"
)

// Preferences is the persisted state.
type Preferences struct {
	Version int `yaml:"version"`
	// Checkpoint is the head commit the cache was last rebuilt from.
	// Empty means the cache was never built.
	Checkpoint     string         `yaml:"checkpoint"`
	RepoPath       string         `yaml:"repo_path,omitempty"`
	RemoteURL      string         `yaml:"remote_url,omitempty"`
	Branch         string         `yaml:"branch,omitempty"`
	AuthorName     string         `yaml:"author_name,omitempty"`
	CredentialType CredentialType `yaml:"credential_type,omitempty"`
	Username       string         `yaml:"username,omitempty"`
	Password       string         `yaml:"password,omitempty"`
	PrivateKeyFile string         `yaml:"private_key_file,omitempty"`
	Passphrase     string         `yaml:"passphrase,omitempty"`
}

// Credentials converts the stored credential fields for the gateway.
// It returns nil when no credentials are configured.
func (p Preferences) Credentials() *gitrepo.Credentials {
	switch p.CredentialType {
	case CredentialBasic:
		return &gitrepo.Credentials{Username: p.Username, Password: p.Password}
	case CredentialSSH:
		return &gitrepo.Credentials{Username: p.Username, PrivateKeyFile: p.PrivateKeyFile, Passphrase: p.Passphrase}
	default:
		return nil
	}
}

// ResetRepository forgets the open repository, its remote and the checkpoint.
func (p *Preferences) ResetRepository() {
	p.Checkpoint = ""
	p.RepoPath = ""
	p.RemoteURL = ""
	p.Branch = ""
	p.CredentialType = CredentialNone
	p.Username = ""
	p.Password = ""
	p.PrivateKeyFile = ""
	p.Passphrase = ""
}

// Store loads and updates Preferences.
type Store interface {
	Load() (Preferences, error)
	Update(fn func(p *Preferences)) error
}

// FileStore keeps Preferences in a YAML file.
type FileStore struct {
	path string

	mu     sync.Mutex
	cached *Preferences
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The file is created on the
// first Update.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the current preferences; a missing file yields defaults.
func (s *FileStore) Load() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.loadLocked()
	if err != nil {
		return Preferences{}, err
	}
	return *p, nil
}

// Update applies fn to the preferences and persists the result atomically.
func (s *FileStore) Update(fn func(p *Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.loadLocked()
	if err != nil {
		return err
	}
	next := *cur
	fn(&next)
	next.Version = formatVersion
	if err := s.writeLocked(&next); err != nil {
		return err
	}
	s.cached = &next
	return nil
}

func (s *FileStore) loadLocked() (*Preferences, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	p := &Preferences{Version: formatVersion, CredentialType: CredentialNone}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.cached = p
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("prefs: parse %s: %w", s.path, err)
	}
	s.cached = p
	return p, nil
}

func (s *FileStore) writeLocked(p *Preferences) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("prefs: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return fmt.Errorf("prefs: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("prefs: rename: %w", err)
	}
	return nil
}
