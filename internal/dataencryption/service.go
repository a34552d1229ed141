package dataencryption

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/registry/encrypt"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Service.
func WithContext(ctx context.Context, svc *Service) context.Context {
	return context.WithValue(ctx, contextKey{}, svc)
}

// FromContext retrieves the Service from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Service {
	svc, _ := ctx.Value(contextKey{}).(*Service)
	return svc
}

// Service orchestrates at-rest encryption providers for encoded teleological arrays.
// The primary provider encrypts new writes; every registered provider stays
// available for decryption routing via the MSEH ProviderID field so that key
// rotation never orphans already-stored arrays.
type Service struct {
	primary encrypt.Provider
	byID    map[string]encrypt.Provider
}

// New constructs a Service from cfg.EncryptionProviders (comma-separated list).
// The first named provider becomes the primary (used for encryption).
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	names := strings.Split(cfg.EncryptionProviders, ",")
	svc := &Service{byID: make(map[string]encrypt.Provider)}

	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		plugin, err := encrypt.Select(name)
		if err != nil {
			return nil, err
		}
		provider, err := plugin.Loader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("encryption provider %q: %w", name, err)
		}
		svc.byID[provider.ID()] = provider
		if i == 0 || svc.primary == nil {
			svc.primary = provider
		}
	}

	if svc.primary == nil {
		return nil, fmt.Errorf("no encryption providers configured in MEMORY_SERVICE_ENCRYPTION_KIND")
	}
	return svc, nil
}

// IsPrimaryReal returns true when the primary provider performs actual encryption
// (i.e. is not the "plain" no-op provider).
func (s *Service) IsPrimaryReal() bool {
	return s.primary.ID() != "plain"
}

// Encrypt delegates to the primary provider.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	return s.primary.Encrypt(plaintext)
}

// Decrypt routes to the provider named in the MSEH header when present. When
// "plain" is registered in the provider list, two additional cases are handled:
//
//   - Scenario 1 (migration): no MSEH header → return bytes as-is via "plain".
//     Covers arrays written before encryption was enabled (e.g. providers = "dek,plain"):
//     old rows have no MSEH header and must not be routed to the primary ("dek"),
//     which would fail expecting an envelope.
//
//   - Scenario 2 (magic collision): MSEH magic present but header is malformed →
//     return bytes as-is via "plain". Raw plaintext that coincidentally starts with
//     the 4-byte MSEH sentinel is treated as plain data rather than returning an error.
//
// Without "plain" in the list, the primary provider handles header-less data and
// any header parse failure is a hard error.
func (s *Service) Decrypt(ciphertext []byte) ([]byte, error) {
	plain := s.byID["plain"]

	if HasMagic(ciphertext) {
		h, _, err := ReadHeader(bytes.NewReader(ciphertext))
		if err != nil {
			// Scenario 2: magic bytes present but header is malformed.
			if plain != nil {
				return plain.Decrypt(ciphertext)
			}
			return nil, err
		}
		if h != nil {
			provider, ok := s.byID[h.ProviderID]
			if !ok {
				return nil, fmt.Errorf("dataencryption: unknown provider %q in MSEH header", h.ProviderID)
			}
			return provider.Decrypt(ciphertext)
		}
	}

	// No MSEH header — Scenario 1: route to "plain" when registered.
	if plain != nil {
		return plain.Decrypt(ciphertext)
	}
	return s.primary.Decrypt(ciphertext)
}
