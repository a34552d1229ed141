// Package dek registers the "dek" AES-256-GCM encryption provider.
// Ciphertext is wrapped in an MSEH envelope.
package dek

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/dataencryption"
	"github.com/chirino/memory-service/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "dek",
		Loader: func(_ context.Context, cfg *config.Config) (encrypt.Provider, error) {
			// EncryptionKey is CSV: first entry is primary (for encryption),
			// subsequent entries are legacy (decryption-only key rotation).
			allKeys, err := config.DecodeEncryptionKeysCSV(cfg.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("dek provider: %w", err)
			}
			if len(allKeys) == 0 {
				return nil, fmt.Errorf("dek provider: MEMORY_SERVICE_ENCRYPTION_DEK_KEY is required")
			}
			return &dekProvider{
				primaryKey: allKeys[0],
				legacyKeys: allKeys[1:],
			}, nil
		},
	})
}

type dekProvider struct {
	primaryKey []byte
	legacyKeys [][]byte
}

func (p *dekProvider) ID() string { return "dek" }

// Encrypt encrypts plaintext with AES-256-GCM and wraps it in an MSEH envelope.
func (p *dekProvider) Encrypt(plaintext []byte) ([]byte, error) {
	iv, err := randomIV()
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(p.primaryKey)
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	var buf bytes.Buffer
	if err := dataencryption.WriteHeader(&buf, dataencryption.Header{
		Version:    1,
		ProviderID: "dek",
		Nonce:      iv,
	}); err != nil {
		return nil, err
	}
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// Decrypt decrypts an MSEH-wrapped ciphertext produced by Encrypt.
func (p *dekProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	if !dataencryption.HasMagic(ciphertext) {
		return nil, fmt.Errorf("dek: expected MSEH envelope")
	}
	return p.decryptMSEH(ciphertext)
}

func (p *dekProvider) decryptMSEH(ciphertext []byte) ([]byte, error) {
	r := bytes.NewReader(ciphertext)
	h, _, err := dataencryption.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("dek: reading ciphertext payload: %w", err)
	}
	return p.gcmOpen(h.Nonce, payload)
}

// gcmOpen tries decrypting payload+nonce with the primary key then all legacy keys.
func (p *dekProvider) gcmOpen(iv, payload []byte) ([]byte, error) {
	keys := append([][]byte{p.primaryKey}, p.legacyKeys...)
	var lastErr error
	for _, key := range keys {
		gcm, err := newGCM(key)
		if err != nil {
			lastErr = err
			continue
		}
		plain, err := gcm.Open(nil, iv, payload, nil)
		if err == nil {
			return plain, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dek: decryption failed with all keys: %w", lastErr)
}

var _ encrypt.Provider = (*dekProvider)(nil)

// ── helpers ───────────────────────────────────────────────────────────────────

func randomIV() ([]byte, error) {
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("dek: generating nonce: %w", err)
	}
	return iv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("dek: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("dek: GCM: %w", err)
	}
	return gcm, nil
}

// AESGCMSeal encrypts plaintext with AES-256-GCM using key and a random IV.
// Returns (iv, ciphertext, error). Exported for use by KEK-backed providers.
func AESGCMSeal(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	iv, err = randomIV()
	if err != nil {
		return nil, nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	return iv, gcm.Seal(nil, iv, plaintext, nil), nil
}

// AESGCMOpen decrypts ciphertext (with appended GCM tag) using key and iv.
// Exported for use by KEK-backed providers.
func AESGCMOpen(key, iv, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("dek: AES-GCM open: %w", err)
	}
	return plain, nil
}
