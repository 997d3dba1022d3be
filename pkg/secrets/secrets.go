// Package secrets resolves named credentials. Providers never fail: an
// unavailable secret is the empty string.
package secrets

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Well-known secret ids.
const (
	APIKeyID    = "fudo-api-key"
	APISecretID = "fudo-api-secret"
)

// Provider resolves a secret by id. "" means unavailable.
type Provider interface {
	Get(ctx context.Context, id string) string
}

// EnvVarName maps a secret id to its environment variable: fudo-api-key -> FUDO_API_KEY.
func EnvVarName(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(id))
}

// EnvProvider reads secrets from the process environment.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider reads from os.LookupEnv.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// NewMapProvider serves a fixed set of secrets keyed by id.
func NewMapProvider(values map[string]string) *EnvProvider {
	byName := make(map[string]string, len(values))
	for id, v := range values {
		byName[EnvVarName(id)] = v
	}
	return &EnvProvider{lookup: func(name string) (string, bool) {
		v, ok := byName[name]
		return v, ok
	}}
}

// Get implements Provider.
func (p *EnvProvider) Get(_ context.Context, id string) string {
	v, _ := p.lookup(EnvVarName(id))
	return strings.TrimSpace(v)
}

// Chain returns the first non-empty value from its providers.
type Chain struct {
	providers []Provider
	logger    zerolog.Logger
}

// NewChain builds a chain; nil providers are skipped.
func NewChain(logger zerolog.Logger, providers ...Provider) *Chain {
	c := &Chain{logger: logger}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Get implements Provider.
func (c *Chain) Get(ctx context.Context, id string) string {
	for _, p := range c.providers {
		if v := p.Get(ctx, id); v != "" {
			return v
		}
	}
	c.logger.Warn().Str("secret", id).Msg("Secret unavailable from every provider")
	return ""
}
