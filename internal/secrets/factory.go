package secrets

import (
	"context"
	"fmt"

	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/observability"
)

// NewProvider builds the provider selected by cfg.
func NewProvider(cfg config.SecretsConfig, logger observability.Logger, metrics *Metrics) (Provider, error) {
	typ, err := ValidateProviderType(cfg.Provider)
	if err != nil {
		return nil, err
	}

	switch typ {
	case ProviderTypeVault:
		return NewVaultProvider(VaultProviderConfig{
			Address: cfg.Vault.Address,
			Token:   cfg.Vault.Token,
			Mount:   cfg.Vault.Mount,
			Path:    cfg.Vault.Path,
			Timeout: cfg.Vault.Timeout.Duration(),
		}, WithVaultLogger(logger), WithVaultMetrics(metrics))
	default:
		return NewEnvProvider(WithEnvMetrics(metrics)), nil
	}
}

// Resolve fetches keys from p and fills gaps from fallback, which holds
// the values already present in configuration.
func Resolve(ctx context.Context, p Provider, fallback SigningKeys) (SigningKeys, error) {
	keys, err := p.Keys(ctx)
	if err != nil {
		return fallback, fmt.Errorf("failed to load signing keys from %s: %w", p.Type(), err)
	}
	return keys.Merge(fallback), nil
}
