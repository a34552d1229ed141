package encrypt

import (
	"context"
	"fmt"

	"github.com/chirino/memory-service/internal/config"
)

// Provider is the SPI for pluggable at-rest encryption providers that protect
// encoded teleological arrays before they reach the primary store.
// Each provider handles its own MSEH envelope writing on encrypt and accepts
// MSEH or plaintext on decrypt.
type Provider interface {
	// ID returns the provider identifier written into the MSEH header (e.g. "plain", "dek", "vault").
	ID() string

	// Encrypt returns MSEH-wrapped ciphertext (or plaintext for the plain provider).
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt accepts MSEH-wrapped ciphertext or plaintext.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Header is passed around after the MSEH envelope has been parsed. Keeping it
// here avoids an import cycle with dataencryption.
type Header struct {
	Version    uint32
	ProviderID string
	Nonce      []byte
}

// Plugin bundles a provider name with its loader function.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config) (Provider, error)
}

var plugins []Plugin

// Register adds an encryption provider plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the Plugin for the given name.
func Select(name string) (Plugin, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("unknown encryption provider %q; registered: %v", name, Names())
}
