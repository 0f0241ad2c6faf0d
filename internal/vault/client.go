// Package vault stores market data provider credentials in HashiCorp
// Vault. When Vault is disabled the client keeps credentials in memory
// so local runs work without a Vault deployment.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"paper-trading-engine/config"
)

// ProviderCredentials are the credentials for one market data provider.
type ProviderCredentials struct {
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*ProviderCredentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*ProviderCredentials),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]*ProviderCredentials),
	}, nil
}

// StoreCredentials stores credentials for a market data provider.
func (c *Client) StoreCredentials(ctx context.Context, creds ProviderCredentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[creds.Provider] = &creds
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(creds.Provider)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"provider":   creds.Provider,
			"api_key":    creds.APIKey,
			"api_secret": creds.APISecret,
			"base_url":   creds.BaseURL,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[creds.Provider] = &creds
	c.mu.Unlock()
	return nil
}

// GetCredentials retrieves credentials for a provider.
func (c *Client) GetCredentials(ctx context.Context, provider string) (*ProviderCredentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[provider]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials for %s not found and vault is disabled", provider)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials for %s not found", provider)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &ProviderCredentials{
		Provider:  getString(data, "provider"),
		APIKey:    getString(data, "api_key"),
		APISecret: getString(data, "api_secret"),
		BaseURL:   getString(data, "base_url"),
	}
	if creds.Provider == "" {
		creds.Provider = provider
	}

	c.mu.Lock()
	c.cache[provider] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes credentials for a provider.
func (c *Client) DeleteCredentials(ctx context.Context, provider string) error {
	c.mu.Lock()
	delete(c.cache, provider)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(provider)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*ProviderCredentials)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(provider string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func (c *Client) metadataPath(provider string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, provider)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
