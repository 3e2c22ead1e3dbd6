package storage

import (
	"crypto/rand"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/chacha20poly1305"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretStore keeps per-user secrets (OAuth tokens, IMAP credentials)
// sealed with XChaCha20-Poly1305. The user id is bound in as
// additional data, so a sealed value cannot be moved to another user.
type SecretStore struct {
	db  *bbolt.DB
	key []byte
}

// NewSecretStore returns a store sealing with key, which must be 32 bytes
func NewSecretStore(db *bbolt.DB, key []byte) (*SecretStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &SecretStore{db: db, key: append([]byte(nil), key...)}, nil
}

// Put seals and stores secret for userID, replacing any previous value
func (s *SecretStore) Put(userID string, secret []byte) error {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(secret)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, secret, []byte(userID))

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SecretsBucket)).Put([]byte(userID), sealed)
	})
}

// Get returns the opened secret of userID
func (s *SecretStore) Get(userID string) ([]byte, error) {
	var sealed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(SecretsBucket)).Get([]byte(userID)); v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		return nil, ErrSecretNotFound
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed secret is truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("open secret: %w", err)
	}
	return plain, nil
}

// Delete forgets the secret of userID
func (s *SecretStore) Delete(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SecretsBucket)).Delete([]byte(userID))
	})
}
