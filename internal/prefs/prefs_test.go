package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))
	p, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Checkpoint != "" || p.CredentialType != CredentialNone {
		t.Errorf("defaults = %+v", p)
	}
	if p.Credentials() != nil {
		t.Error("no credentials expected")
	}
}

func TestUpdatePersistsAcrossStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	s := NewFileStore(path)
	err := s.Update(func(p *Preferences) {
		p.Checkpoint = "abc123"
		p.RepoPath = "/data/notes"
		p.CredentialType = CredentialBasic
		p.Username = "me"
		p.Password = "secret"
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		t.Errorf("preferences readable by others: %v", info.Mode())
	}

	p, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Checkpoint != "abc123" || p.RepoPath != "/data/notes" {
		t.Errorf("loaded = %+v", p)
	}
	creds := p.Credentials()
	if creds == nil || creds.Username != "me" || creds.Password != "secret" || creds.IsSSH() {
		t.Errorf("credentials = %+v", creds)
	}
}

func TestResetRepository(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))
	_ = s.Update(func(p *Preferences) {
		p.Checkpoint = "abc"
		p.RepoPath = "/r"
		p.RemoteURL = "https://example.com/r.git"
		p.AuthorName = "me"
		p.CredentialType = CredentialSSH
		p.PrivateKeyFile = "/k"
	})
	if err := s.Update(func(p *Preferences) { p.ResetRepository() }); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Load()
	if p.Checkpoint != "" || p.RepoPath != "" || p.RemoteURL != "" || p.PrivateKeyFile != "" {
		t.Errorf("not reset: %+v", p)
	}
	if p.AuthorName != "me" {
		t.Errorf("author name should survive a reset, got %q", p.AuthorName)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("checkpoint: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("expected parse error")
	}
}
