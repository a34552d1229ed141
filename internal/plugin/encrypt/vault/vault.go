// Package vault registers the "vault" encryption provider backed by HashiCorp Vault Transit.
// Wrapped DEKs are supplied via configuration (MEMORY_SERVICE_ENCRYPTION_VAULT_WRAPPED_DEKS,
// first entry primary, rest legacy) and unwrapped through Vault Transit at load time —
// Vault is never called per-request.
package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/dataencryption"
	dekpkg "github.com/chirino/memory-service/internal/plugin/encrypt/dek"
	"github.com/chirino/memory-service/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "vault",
		Loader: func(ctx context.Context, cfg *config.Config) (encrypt.Provider, error) {
			if cfg.EncryptionVaultTransitKey == "" {
				return nil, fmt.Errorf("vault provider: MEMORY_SERVICE_ENCRYPTION_VAULT_TRANSIT_KEY is required")
			}
			if cfg.EncryptionVaultWrappedDEKs == "" {
				return nil, fmt.Errorf("vault provider: MEMORY_SERVICE_ENCRYPTION_VAULT_WRAPPED_DEKS is required")
			}
			client, err := vaultapi.NewClient(vaultapi.DefaultConfig())
			if err != nil {
				return nil, fmt.Errorf("vault provider: creating client: %w", err)
			}
			return &vaultProvider{
				client:      client,
				transitKey:  cfg.EncryptionVaultTransitKey,
				wrappedDEKs: cfg.EncryptionVaultWrappedDEKs,
			}, nil
		},
	})
}

type vaultProvider struct {
	client      *vaultapi.Client
	transitKey  string
	wrappedDEKs string

	once    sync.Once
	mu      sync.RWMutex // protects keys
	keys    [][]byte     // keys[0]=primary, keys[1:]=legacy
	loadErr error
}

func (p *vaultProvider) ID() string { return "vault" }

// load unwraps every configured DEK through Vault Transit and caches the
// plaintext keys. Called exactly once via sync.Once.
func (p *vaultProvider) load(ctx context.Context) {
	var keys [][]byte
	for _, raw := range strings.Split(p.wrappedDEKs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		plain, err := p.transitDecrypt(ctx, []byte(raw))
		if err != nil {
			p.loadErr = fmt.Errorf("vault: unwrap configured DEK: %w", err)
			return
		}
		keys = append(keys, plain)
	}
	if len(keys) == 0 {
		p.loadErr = fmt.Errorf("vault: no usable wrapped DEKs configured")
		return
	}
	p.mu.Lock()
	p.keys = keys
	p.mu.Unlock()
}

func (p *vaultProvider) ensureLoaded() error {
	p.once.Do(func() { p.load(context.Background()) })
	return p.loadErr
}

// currentKeys returns a snapshot of the plaintext key list under the read lock.
func (p *vaultProvider) currentKeys() [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([][]byte, len(p.keys))
	copy(result, p.keys)
	return result
}

// Encrypt encrypts plaintext with the primary DEK using AES-256-GCM + MSEH envelope.
func (p *vaultProvider) Encrypt(plaintext []byte) ([]byte, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	pk := p.keys[0]
	p.mu.RUnlock()

	iv, ciphertext, err := dekpkg.AESGCMSeal(pk, plaintext)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dataencryption.WriteHeader(&buf, dataencryption.Header{
		Version:    1,
		ProviderID: "vault",
		Nonce:      iv,
	}); err != nil {
		return nil, err
	}
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// Decrypt unwraps MSEH-wrapped ciphertext using the cached DEKs (primary first, then legacy).
func (p *vaultProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	if !dataencryption.HasMagic(ciphertext) {
		return nil, fmt.Errorf("vault: expected MSEH envelope")
	}
	r := bytes.NewReader(ciphertext)
	h, _, err := dataencryption.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("vault: reading ciphertext: %w", err)
	}
	return p.gcmOpen(h.Nonce, payload)
}

func (p *vaultProvider) gcmOpen(iv, payload []byte) ([]byte, error) {
	var lastErr error
	for _, key := range p.currentKeys() {
		plain, err := dekpkg.AESGCMOpen(key, iv, payload)
		if err == nil {
			return plain, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no keys available")
	}
	return nil, fmt.Errorf("vault: decryption failed with all keys: %w", lastErr)
}

// transitDecrypt unwraps a Vault Transit ciphertext back to plaintext.
func (p *vaultProvider) transitDecrypt(ctx context.Context, wrapped []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"ciphertext": string(wrapped),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: transit/decrypt: %w", err)
	}
	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault: transit/decrypt: missing plaintext in response")
	}
	plain, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault: transit/decrypt: decoding plaintext: %w", err)
	}
	return plain, nil
}

var _ encrypt.Provider = (*vaultProvider)(nil)
