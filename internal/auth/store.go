package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/99designs/keyring"
)

// Token is a persisted credential pair. ExpiresAt is absolute so a reloaded
// token can be checked for freshness without knowing when it was issued.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the token expires inside the given margin.
func (t *Token) ExpiresWithin(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// CredentialStore persists tokens between runs. Load returns (nil, nil)
// when no token has been stored yet.
type CredentialStore interface {
	Load() (*Token, error)
	Save(*Token) error
	Clear() error
}

// FileStore keeps the token as a JSON file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, nil
	}
	return &tok, nil
}

func (s *FileStore) Save(tok *Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

const (
	keyringService = "kroger-cart"
	keyringKey     = "oauth-token"
)

// KeyringStore keeps the token in the operating system keychain.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore opens the OS keychain. Returns an error when no usable
// backend is available, in which case callers fall back to a FileStore.
func NewKeyringStore() (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

func (s *KeyringStore) Load() (*Token, error) {
	item, err := s.ring.Get(keyringKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("parsing keyring token: %w", err)
	}
	return &tok, nil
}

func (s *KeyringStore) Save(tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := s.ring.Set(keyring.Item{
		Key:   keyringKey,
		Label: "Kroger cart OAuth token",
		Data:  data,
	}); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Clear() error {
	if err := s.ring.Remove(keyringKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing keyring token: %w", err)
	}
	return nil
}

// OpenStore picks a credential store for the given mode. "file" and
// "keyring" force one backend; "auto" prefers the keychain and falls back
// to the file store at path when no usable backend exists.
func OpenStore(mode, path string) (CredentialStore, error) {
	switch mode {
	case "file":
		return NewFileStore(path), nil
	case "keyring":
		ks, err := NewKeyringStore()
		if err != nil {
			return nil, fmt.Errorf("token storage %q: %w", mode, err)
		}
		return ks, nil
	case "", "auto":
		if ks, err := NewKeyringStore(); err == nil {
			return ks, nil
		}
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown token storage mode %q", mode)
	}
}
