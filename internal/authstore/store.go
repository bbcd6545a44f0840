// Package authstore persists the account pool document as a single JSON file
// under the user config directory. Writes replace the whole document via a
// temp file and rename so a crash never leaves a torn file behind.
package authstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ink-splatters/opencode-antigravity-auth/internal/account"
)

type Store struct {
	path   string
	crypto *Crypto // nil means plaintext token values
}

// New creates a store at path. When encryptionKey is non-empty, refresh and
// access token values inside the document are encrypted at rest.
func New(path, encryptionKey string) (*Store, error) {
	s := &Store{path: path}
	if encryptionKey != "" {
		c, err := NewCrypto(encryptionKey)
		if err != nil {
			return nil, err
		}
		s.crypto = c
	}
	return s, nil
}

// Load reads the document. A missing file is not an error: (nil, nil).
func (s *Store) Load() (*account.Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	var doc account.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}

	if s.crypto != nil {
		for i := range doc.Accounts {
			doc.Accounts[i].RefreshToken = s.decryptValue(doc.Accounts[i].RefreshToken)
		}
	}
	return &doc, nil
}

// Save atomically replaces the document on disk.
func (s *Store) Save(doc *account.Document) error {
	out := *doc
	if s.crypto != nil {
		out.Accounts = make([]account.Account, len(doc.Accounts))
		copy(out.Accounts, doc.Accounts)
		for i := range out.Accounts {
			enc, err := s.crypto.Encrypt(out.Accounts[i].RefreshToken)
			if err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
			out.Accounts[i].RefreshToken = enc
		}
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".antigravity-accounts-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace accounts: %w", err)
	}
	return nil
}

// Delete removes the persisted document, for the explicit logout path.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// decryptValue tolerates plaintext values so an existing unencrypted file
// keeps loading after a key is configured.
func (s *Store) decryptValue(v string) string {
	plain, err := s.crypto.Decrypt(v)
	if err != nil {
		slog.Debug("token value not encrypted, using as-is")
		return v
	}
	return plain
}
