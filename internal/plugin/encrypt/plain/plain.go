// Package plain registers the "plain" no-op encryption provider.
// It passes all data through unchanged and does not write MSEH headers.
package plain

import (
	"context"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/registry/encrypt"
)

func init() {
	encrypt.Register(encrypt.Plugin{
		Name: "plain",
		Loader: func(_ context.Context, cfg *config.Config) (encrypt.Provider, error) {
			return &plainProvider{}, nil
		},
	})
}

type plainProvider struct{}

func (p *plainProvider) ID() string { return "plain" }

func (p *plainProvider) Encrypt(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (p *plainProvider) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

var _ encrypt.Provider = (*plainProvider)(nil)
