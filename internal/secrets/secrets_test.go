package secrets

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestStoreSetGetDelete(t *testing.T) {
	keyring.MockInit()
	s := New("mines-test", "")

	if err := s.Set("api", "value-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("api")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "value-1" {
		t.Fatalf("unexpected value: %q", got)
	}

	if err := s.Delete("api"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("api"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete("api"); err != nil {
		t.Errorf("deleting a missing secret: %v", err)
	}
}

func TestStoreRequiresName(t *testing.T) {
	keyring.MockInit()
	s := New("", "")
	if s.Service() != defaultService {
		t.Errorf("service = %q", s.Service())
	}
	if err := s.Set("  ", "x"); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := s.Get(""); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestStoreFallbackFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("failed to unlock correct collection: dbus: not available"))
	t.Cleanup(keyring.MockInit)

	path := filepath.Join(t.TempDir(), "secrets.json")
	s := New("mines-test", path)

	if err := s.Set("token", "abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("fallback file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("fallback permissions = %o", perm)
	}

	got, err := s.Get("token")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "abc" {
		t.Errorf("unexpected value: %q", got)
	}

	if err := s.Delete("token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("token"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreNoFallbackConfigured(t *testing.T) {
	keyring.MockInitWithError(errors.New("keyring backend not available"))
	t.Cleanup(keyring.MockInit)

	s := New("mines-test", "")
	if err := s.Set("token", "abc"); err == nil {
		t.Error("expected error without keyring or fallback")
	}
}

func TestSigningKeyStable(t *testing.T) {
	keyring.MockInit()
	s := New("mines-test", "")

	first, err := s.SigningKey("jwt")
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	if len(first) != signingKeySize {
		t.Fatalf("key length = %d", len(first))
	}
	second, err := s.SigningKey("jwt")
	if err != nil {
		t.Fatalf("second SigningKey: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("signing key changed between calls")
	}

	other, err := s.SigningKey("other")
	if err != nil {
		t.Fatalf("SigningKey(other): %v", err)
	}
	if bytes.Equal(first, other) {
		t.Error("distinct names share a key")
	}
}
