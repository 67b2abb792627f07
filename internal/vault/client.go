package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/logging"
)

// Client wraps the HashiCorp Vault client as the bot's secret source.
// With Vault disabled it degrades to an in-memory store so development
// and tests run without a Vault server.
type Client struct {
	client *api.Client
	config config.VaultConfig
	log    *logging.Logger

	mu    sync.RWMutex
	cache map[string]map[string]string
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig, log *logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.Default()
	}
	c := &Client{
		config: cfg,
		log:    log.WithComponent("vault"),
		cache:  make(map[string]map[string]string),
	}
	if !cfg.Enabled {
		return c, nil
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
	c.client = client
	return c, nil
}

// GetSecret reads the named secret, a flat string map. Reads are cached
// until ClearCache.
func (c *Client) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("secret %q not found and vault is disabled", name)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %q: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %q not found", name)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secret %q has invalid format", name)
	}

	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}

	c.mu.Lock()
	c.cache[name] = out
	c.mu.Unlock()
	return out, nil
}

// SetSecret writes the named secret. With Vault disabled the value only
// lands in the in-memory store.
func (c *Client) SetSecret(ctx context.Context, name string, values map[string]string) error {
	c.mu.Lock()
	c.cache[name] = values
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	data := make(map[string]interface{}, len(values))
	for k, v := range values {
		data[k] = v
	}
	_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), map[string]interface{}{
		"data": data,
	})
	if err != nil {
		return fmt.Errorf("failed to store secret %q: %w", name, err)
	}
	return nil
}

// ApplyOverrides pulls the bot's secrets from Vault into the loaded
// configuration. Missing secrets are not an error; env and file values
// stay in place.
func (c *Client) ApplyOverrides(ctx context.Context, cfg *config.Config) {
	if !c.config.Enabled {
		return
	}

	if s, err := c.GetSecret(ctx, "auth"); err == nil {
		if v := s["jwt_secret"]; v != "" {
			cfg.AuthConfig.JWTSecret = v
		}
		if v := s["operator_password_hash"]; v != "" {
			cfg.AuthConfig.OperatorPasswordHash = v
		}
	}
	if s, err := c.GetSecret(ctx, "database"); err == nil {
		if v := s["password"]; v != "" {
			cfg.DatabaseConfig.Password = v
		}
	}
	if s, err := c.GetSecret(ctx, "telegram"); err == nil {
		if v := s["bot_token"]; v != "" {
			cfg.NotificationConfig.Telegram.BotToken = v
		}
		if v := s["chat_id"]; v != "" {
			cfg.NotificationConfig.Telegram.ChatID = v
		}
	}
	c.log.Info("vault secret overrides applied")
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]map[string]string)
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

func (c *Client) secretPath(name string) string {
	base := c.config.SecretPath
	if base == "" {
		base = "trading-bot"
	}
	return fmt.Sprintf("secret/data/%s/%s", base, name)
}
