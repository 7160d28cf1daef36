package realtime

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "channel-token-key"
	publicKeyFile  = "channel-token-key.pub"
)

// LoadOrGenerateKeypair reads the token signing keypair from dir, creating
// and saving a new one when none exists yet. A partially present or
// corrupt keypair is an error rather than being silently replaced.
func LoadOrGenerateKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privatePath := filepath.Join(dir, privateKeyFile)
	publicPath := filepath.Join(dir, publicKeyFile)

	private, err := os.ReadFile(privatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return generateKeypair(privatePath, publicPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(private) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}

	public, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(public) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("public key has %d bytes, want %d", len(public), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(public), ed25519.PrivateKey(private), nil
}

func generateKeypair(privatePath, publicPath string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating keypair: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(privatePath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(privatePath, private, 0o600); err != nil {
		return nil, nil, fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(publicPath, public, 0o644); err != nil {
		return nil, nil, fmt.Errorf("writing public key: %w", err)
	}
	return public, private, nil
}
