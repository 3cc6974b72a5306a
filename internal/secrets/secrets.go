// Package secrets resolves the token signing secret from its configured
// source. Vault, when enabled, always wins over the inline value.
package secrets

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/commercekit/gateway/internal/config"
)

// Source yields the signing secret.
type Source interface {
	SigningSecret(ctx context.Context) (string, error)
}

// Static returns a fixed secret, used when the secret arrives via config
// file or environment.
type Static struct {
	Secret string
}

func (s Static) SigningSecret(context.Context) (string, error) {
	if s.Secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	return s.Secret, nil
}

// Vault reads the secret from a Vault KV mount.
type Vault struct {
	client *vault.Client
	path   string
	key    string
}

// NewVault creates a Vault-backed source.
func NewVault(cfg config.VaultConfig) (*Vault, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return &Vault{client: client, path: cfg.SecretPath, key: cfg.SecretKey}, nil
}

func (v *Vault) SigningSecret(ctx context.Context) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path)
	if err != nil {
		return "", fmt.Errorf("reading %s from vault: %w", v.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault path %s has no data", v.path)
	}

	data := secret.Data
	// KV v2 nests the payload under "data".
	if nested, ok := data["data"].(map[string]any); ok {
		data = nested
	}
	value, ok := data[v.key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("vault path %s missing key %q", v.path, v.key)
	}
	return value, nil
}

// Resolve picks the source per configuration and returns the secret.
// Called once at startup; failure is fatal.
func Resolve(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Vault.Enabled {
		source, err := NewVault(cfg.Vault)
		if err != nil {
			return "", err
		}
		return source.SigningSecret(ctx)
	}
	return Static{Secret: cfg.Auth.Secret}.SigningSecret(ctx)
}
