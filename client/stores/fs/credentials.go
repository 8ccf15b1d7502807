// Package fs provides a file system-based credential store for the authcore client.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/panyam/authcore/client"
)

// FSCredentialStore keeps every server's session in one JSON file, written
// with owner-only permissions
type FSCredentialStore struct {
	mu       sync.RWMutex
	path     string
	servers  map[string]*client.ServerCredential
	modified bool
}

type credentialFile struct {
	Servers map[string]*client.ServerCredential `json:"servers"`
}

// NewFSCredentialStore opens the store at path. An empty path means
// <user config dir>/<appName>/credentials.json.
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		var err error
		if path, err = defaultPath(appName); err != nil {
			return nil, err
		}
	}
	store := &FSCredentialStore{
		path:    path,
		servers: make(map[string]*client.ServerCredential),
	}
	if err := store.load(); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return nil, err
	}
	return store, nil
}

func defaultPath(appName string) (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", herr)
		}
		configDir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "authcore"
	}
	return filepath.Join(configDir, appName, "credentials.json"), nil
}

func (s *FSCredentialStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Servers != nil {
		s.servers = file.Servers
	}
	return nil
}

// serverKey reduces a URL to scheme://host
func serverKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}

func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[key], nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = cred
	s.modified = true
	return nil
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[key]; ok {
		delete(s.servers, key)
		s.modified = true
	}
	return nil
}

func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	servers := make([]string, 0, len(s.servers))
	for k := range s.servers {
		servers = append(servers, k)
	}
	return servers, nil
}

// Save writes the file if anything changed. The write goes through a temp
// file and a rename so a crash never leaves half a file behind.
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modified {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(credentialFile{Servers: s.servers}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	s.modified = false
	return nil
}

// Path returns the path to the credentials file
func (s *FSCredentialStore) Path() string {
	return s.path
}
