package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultSource locates a KV secret holding storage credentials.
type VaultSource struct {
	// Address of the Vault server, e.g. https://vault.example.com:8200.
	Address string
	// Token used to authenticate. Empty falls back to VAULT_TOKEN.
	Token string
	// SecretPath is the full logical path, e.g. "secret/data/docstore" for KV v2.
	SecretPath string
	Timeout    time.Duration
}

// Enabled reports whether enough is set to attempt a read.
func (v VaultSource) Enabled() bool {
	return v.Address != "" && v.SecretPath != ""
}

// LoadVaultSecrets reads the secret at src.SecretPath and returns its fields
// as strings. Both KV v2 ({"data": {...}}) and KV v1 layouts are accepted.
func LoadVaultSecrets(ctx context.Context, src VaultSource) (map[string]string, error) {
	if !src.Enabled() {
		return nil, errors.New("vault source not configured")
	}

	timeout := src.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = src.Address
	vaultCfg.HttpClient = &http.Client{Timeout: timeout}
	vaultCfg.MaxRetries = 0

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if src.Token != "" {
		client.SetToken(src.Token)
	}

	path := strings.Trim(src.SecretPath, "/")
	secret, err := client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from Vault: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret at %s", path)
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}
