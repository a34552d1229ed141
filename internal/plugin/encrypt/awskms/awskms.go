// Package awskms registers the "kms" encryption provider backed by AWS KMS.
// Wrapped DEKs are supplied via configuration (MEMORY_SERVICE_ENCRYPTION_KMS_WRAPPED_DEKS,
// first entry primary, rest legacy) and unwrapped through KMS Decrypt at load time —
// KMS is never called per-request.
package awskms

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/dataencryption"
	dekpkg "github.com/chirino/memory-service/internal/plugin/encrypt/dek"
	"github.com/chirino/memory-service/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "kms",
		Loader: func(ctx context.Context, cfg *config.Config) (encrypt.Provider, error) {
			if cfg.EncryptionKMSKeyID == "" {
				return nil, fmt.Errorf("kms provider: MEMORY_SERVICE_ENCRYPTION_KMS_KEY_ID is required")
			}
			if cfg.EncryptionKMSWrappedDEKs == "" {
				return nil, fmt.Errorf("kms provider: MEMORY_SERVICE_ENCRYPTION_KMS_WRAPPED_DEKS is required")
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("kms provider: loading AWS config: %w", err)
			}
			return &kmsProvider{
				kmsClient:   kms.NewFromConfig(awsCfg),
				keyID:       cfg.EncryptionKMSKeyID,
				wrappedDEKs: cfg.EncryptionKMSWrappedDEKs,
			}, nil
		},
	})
}

type kmsProvider struct {
	kmsClient   *kms.Client
	keyID       string
	wrappedDEKs string

	once    sync.Once
	mu      sync.RWMutex // protects keys
	keys    [][]byte     // keys[0]=primary, keys[1:]=legacy
	loadErr error
}

func (p *kmsProvider) ID() string { return "kms" }

// load unwraps every configured DEK through KMS Decrypt and caches the
// plaintext keys. Called exactly once via sync.Once.
func (p *kmsProvider) load(ctx context.Context) {
	var keys [][]byte
	for _, raw := range strings.Split(p.wrappedDEKs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		blob, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			p.loadErr = fmt.Errorf("kms: decoding configured wrapped DEK: %w", err)
			return
		}
		plain, err := p.kmsDecrypt(ctx, blob)
		if err != nil {
			p.loadErr = fmt.Errorf("kms: unwrap configured DEK: %w", err)
			return
		}
		keys = append(keys, plain)
	}
	if len(keys) == 0 {
		p.loadErr = fmt.Errorf("kms: no usable wrapped DEKs configured")
		return
	}
	p.mu.Lock()
	p.keys = keys
	p.mu.Unlock()
}

func (p *kmsProvider) ensureLoaded() error {
	p.once.Do(func() { p.load(context.Background()) })
	return p.loadErr
}

// currentKeys returns a snapshot of the plaintext key list under the read lock.
func (p *kmsProvider) currentKeys() [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([][]byte, len(p.keys))
	copy(result, p.keys)
	return result
}

// Encrypt encrypts plaintext with the primary DEK using AES-256-GCM + MSEH envelope.
func (p *kmsProvider) Encrypt(plaintext []byte) ([]byte, error) {
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
		ProviderID: "kms",
		Nonce:      iv,
	}); err != nil {
		return nil, err
	}
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// Decrypt unwraps MSEH-wrapped ciphertext using the cached DEKs (primary first, then legacy).
func (p *kmsProvider) Decrypt(ciphertext []byte) ([]byte, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, err
	}
	if !dataencryption.HasMagic(ciphertext) {
		return nil, fmt.Errorf("kms: expected MSEH envelope")
	}
	r := bytes.NewReader(ciphertext)
	h, _, err := dataencryption.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("kms: reading ciphertext: %w", err)
	}
	return p.gcmOpen(h.Nonce, payload)
}

func (p *kmsProvider) gcmOpen(iv, payload []byte) ([]byte, error) {
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
	return nil, fmt.Errorf("kms: decryption failed with all keys: %w", lastErr)
}

// kmsDecrypt unwraps a KMS ciphertext blob back to plaintext.
func (p *kmsProvider) kmsDecrypt(ctx context.Context, wrapped []byte) ([]byte, error) {
	out, err := p.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(p.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("kms: Decrypt: %w", err)
	}
	return out.Plaintext, nil
}

var _ encrypt.Provider = (*kmsProvider)(nil)
