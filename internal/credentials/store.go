// Package credentials keeps per-service OAuth tokens encrypted at rest with
// NaCl secretbox.
package credentials

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"
)

const (
	keyFile   = "key"
	tokenExt  = ".enc"
	nonceSize = 24
	keySize   = 32
)

// ErrNotFound is returned when no token is stored for a service.
var ErrNotFound = errors.New("credentials not found")

var serviceName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Store persists service tokens.
type Store interface {
	Load(service string) (*oauth2.Token, error)
	Save(service string, tok *oauth2.Token) error
	Delete(service string) error
	List() ([]string, error)
}

// FileStore writes one sealed file per service next to a randomly generated
// key file. Both are created with owner-only permissions.
type FileStore struct {
	dir string
	mu  sync.Mutex
	key *[keySize]byte
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Load(service string) (*oauth2.Token, error) {
	path, err := s.path(service)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", service, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s credentials: %w", service, err)
	}
	key, err := s.loadKey(false)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%s credentials are corrupt", service)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("%s credentials cannot be decrypted", service)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("decode %s credentials: %w", service, err)
	}
	return &tok, nil
}

func (s *FileStore) Save(service string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("nil token")
	}
	path, err := s.path(service)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.loadKey(true)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode %s credentials: %w", service, err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, key)
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("write %s credentials: %w", service, err)
	}
	return nil
}

func (s *FileStore) Delete(service string) error {
	path, err := s.path(service)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", service, ErrNotFound)
		}
		return fmt.Errorf("delete %s credentials: %w", service, err)
	}
	return nil
}

// List returns the services with stored tokens, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials dir: %w", err)
	}
	var services []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tokenExt) {
			continue
		}
		services = append(services, strings.TrimSuffix(name, tokenExt))
	}
	sort.Strings(services)
	return services, nil
}

func (s *FileStore) path(service string) (string, error) {
	if !serviceName.MatchString(service) {
		return "", fmt.Errorf("invalid service name %q", service)
	}
	return filepath.Join(s.dir, service+tokenExt), nil
}

// loadKey reads the key file, creating it when create is set.
func (s *FileStore) loadKey(create bool) (*[keySize]byte, error) {
	if s.key != nil {
		return s.key, nil
	}
	path := filepath.Join(s.dir, keyFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != keySize {
			return nil, fmt.Errorf("credentials key %s has wrong size", path)
		}
		var key [keySize]byte
		copy(key[:], data)
		s.key = &key
		return s.key, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read credentials key: %w", err)
	case !create:
		return nil, errors.New("credentials key missing")
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("generate credentials key: %w", err)
	}
	if err := os.WriteFile(path, key[:], 0600); err != nil {
		return nil, fmt.Errorf("write credentials key: %w", err)
	}
	s.key = &key
	return s.key, nil
}
