package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	defaultService = "mines-desktop"
	signingKeySize = 32
)

// ErrNotFound is returned when a secret exists in neither the keyring nor
// the fallback file.
var ErrNotFound = keyring.ErrNotFound

// Store keeps named secrets in the OS keychain. When no keychain backend is
// available it falls back to a 0600 JSON file, if a path is configured.
type Store struct {
	service      string
	fallbackPath string
	mu           sync.Mutex
}

// New returns a Store for the given keyring service name.
func New(service, fallbackPath string) *Store {
	if strings.TrimSpace(service) == "" {
		service = defaultService
	}
	return &Store{service: service, fallbackPath: fallbackPath}
}

// Service returns the keyring service name.
func (s *Store) Service() string { return s.service }

// Set stores value under name.
func (s *Store) Set(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("secrets: name is required")
	}
	err := keyring.Set(s.service, name, value)
	if err == nil {
		return nil
	}
	if !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring set %s: %w", name, err)
	}
	return s.setFallback(name, value)
}

// Get returns the secret stored under name, or ErrNotFound.
func (s *Store) Get(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	val, err := keyring.Get(s.service, name)
	if err == nil {
		return val, nil
	}
	if !isKeyringUnavailable(err) && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("secrets: keyring get %s: %w", name, err)
	}

	fallback, ferr := s.getFallback(name)
	if ferr == nil {
		return fallback, nil
	}
	if errors.Is(err, keyring.ErrNotFound) || errors.Is(ferr, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return "", ferr
}

// Delete removes name from the keyring and the fallback file. Deleting a
// missing secret is not an error.
func (s *Store) Delete(name string) error {
	err := keyring.Delete(s.service, name)
	ferr := s.deleteFallback(name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) && !isKeyringUnavailable(err) {
		return fmt.Errorf("secrets: keyring delete %s: %w", name, err)
	}
	return ferr
}

// SigningKey returns the HMAC key stored under name, generating and storing
// a random one on first use.
func (s *Store) SigningKey(name string) ([]byte, error) {
	encoded, err := s.Get(name)
	if err == nil {
		key, derr := base64.StdEncoding.DecodeString(encoded)
		if derr == nil && len(key) >= signingKeySize {
			return key, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	key := make([]byte, signingKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secrets: generate key: %w", err)
	}
	if err := s.Set(name, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

func isKeyringUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "secret service") ||
		strings.Contains(msg, "dbus") ||
		strings.Contains(msg, "no keychain") ||
		strings.Contains(msg, "keyring backend not available") ||
		strings.Contains(msg, "not supported")
}

func (s *Store) setFallback(name, value string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return errors.New("secrets: keyring unavailable and no fallback path configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackLocked()
	if err != nil {
		return err
	}
	data[name] = value
	return s.writeFallbackLocked(data)
}

func (s *Store) getFallback(name string) (string, error) {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return "", ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackLocked()
	if err != nil {
		return "", err
	}
	val, ok := data[name]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *Store) deleteFallback(name string) error {
	if strings.TrimSpace(s.fallbackPath) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFallbackLocked()
	if err != nil {
		return err
	}
	if _, ok := data[name]; !ok {
		return nil
	}
	delete(data, name)
	return s.writeFallbackLocked(data)
}

func (s *Store) readFallbackLocked() (map[string]string, error) {
	out := map[string]string{}
	raw, err := os.ReadFile(s.fallbackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("secrets: read fallback: %w", err)
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("secrets: decode fallback: %w", err)
	}
	return out, nil
}

func (s *Store) writeFallbackLocked(data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.fallbackPath), 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir fallback dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("secrets: encode fallback: %w", err)
	}
	if err := os.WriteFile(s.fallbackPath, raw, 0o600); err != nil {
		return fmt.Errorf("secrets: write fallback: %w", err)
	}
	return nil
}
