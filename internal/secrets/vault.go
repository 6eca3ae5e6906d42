package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/kelmah/apigateway/internal/observability"
)

// Field names looked up in the Vault secret, first match wins.
var (
	jwtSecretFields   = []string{"jwtSecret", "jwt_secret", "JWT_SECRET"}
	internalKeyFields = []string{"internalKey", "internal_api_key", "INTERNAL_API_KEY"}
)

// VaultProviderConfig configures the Vault provider.
type VaultProviderConfig struct {
	Address string
	Token   string
	// Mount is the KV v2 mount point. Defaults to "secret".
	Mount string
	// Path of the secret under the mount.
	Path    string
	Timeout time.Duration
}

// VaultProvider reads signing keys from one Vault KV v2 secret.
type VaultProvider struct {
	client  *vaultapi.Client
	mount   string
	path    string
	logger  observability.Logger
	metrics *Metrics
}

// VaultOption configures a VaultProvider.
type VaultOption func(*VaultProvider)

// WithVaultLogger sets the logger.
func WithVaultLogger(logger observability.Logger) VaultOption {
	return func(p *VaultProvider) {
		p.logger = logger
	}
}

// WithVaultMetrics records Vault operations.
func WithVaultMetrics(m *Metrics) VaultOption {
	return func(p *VaultProvider) {
		p.metrics = m
	}
}

// NewVaultProvider creates a Vault provider authenticated with a token.
func NewVaultProvider(cfg VaultProviderConfig, opts ...VaultOption) (*VaultProvider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderNotConfigured)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: vault secret path is required", ErrProviderNotConfigured)
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}
	apiConfig.MaxRetries = 2

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	p := &VaultProvider{
		client: client,
		mount:  mount,
		path:   cfg.Path,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Type returns ProviderTypeVault.
func (p *VaultProvider) Type() ProviderType { return ProviderTypeVault }

// Keys reads the configured secret.
func (p *VaultProvider) Keys(ctx context.Context) (SigningKeys, error) {
	start := time.Now()
	keys, err := p.read(ctx)
	p.metrics.record(p.Type(), "keys", time.Since(start), err)
	if err != nil {
		return SigningKeys{}, err
	}

	p.logger.Debug("signing keys read from vault",
		observability.String("mount", p.mount),
		observability.String("path", p.path),
		observability.Bool("jwt_secret", keys.JWTSecret != ""),
		observability.Bool("internal_key", keys.InternalKey != ""),
	)
	return keys, nil
}

func (p *VaultProvider) read(ctx context.Context) (SigningKeys, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return SigningKeys{}, fmt.Errorf("%w: %s/%s", ErrSecretNotFound, p.mount, p.path)
		}
		return SigningKeys{}, fmt.Errorf("failed to read %s/%s: %w", p.mount, p.path, err)
	}
	if secret == nil || secret.Data == nil {
		return SigningKeys{}, fmt.Errorf("%w: %s/%s", ErrSecretNotFound, p.mount, p.path)
	}

	return SigningKeys{
		JWTSecret:   firstString(secret.Data, jwtSecretFields),
		InternalKey: firstString(secret.Data, internalKeyFields),
	}, nil
}

func firstString(data map[string]interface{}, fields []string) string {
	for _, f := range fields {
		if s, ok := data[f].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// HealthCheck queries the Vault health endpoint.
func (p *VaultProvider) HealthCheck(ctx context.Context) error {
	start := time.Now()
	health, err := p.client.Sys().HealthWithContext(ctx)
	if err == nil && health.Sealed {
		err = errors.New("vault is sealed")
	}
	p.metrics.record(p.Type(), "health", time.Since(start), err)
	return err
}

// Close is a no-op; the Vault client holds no long-lived resources.
func (p *VaultProvider) Close() error { return nil }
