package profile

import (
	"os"

	"hearth/internal/domain"
	"hearth/internal/infra/config"
)

// PassphraseEnv names the environment variable holding the passphrase for
// encrypted API keys.
const PassphraseEnv = "HEARTH_PASSPHRASE"

// Resolver maps profile IDs from configuration to domain profiles,
// decrypting stored API keys on resolution.
type Resolver struct {
	profiles   map[string]config.ProfileConfig
	passphrase func() string
}

// NewResolver indexes the configured profiles. The passphrase for encrypted
// keys is read from the environment at resolution time, not captured here,
// so key rotation doesn't require a restart.
func NewResolver(profiles []config.ProfileConfig) *Resolver {
	idx := make(map[string]config.ProfileConfig, len(profiles))
	for _, p := range profiles {
		idx[p.ID] = p
	}
	return &Resolver{
		profiles:   idx,
		passphrase: func() string { return os.Getenv(PassphraseEnv) },
	}
}

// Resolve implements domain.ProfileResolver.
func (r *Resolver) Resolve(id string) (domain.Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return domain.Profile{}, domain.WrapOpDetail("profile.resolve", domain.ErrNotFound, id)
	}

	apiKey := p.APIKey
	if config.IsEncrypted(apiKey) {
		decrypted, err := config.DecryptValue(apiKey, r.passphrase())
		if err != nil {
			return domain.Profile{}, domain.WrapOpDetail("profile.resolve", domain.ErrAuth,
				"decrypt api key for profile "+id)
		}
		apiKey = decrypted
	}

	return domain.Profile{
		ID:           p.ID,
		Name:         p.Name,
		Model:        p.Model,
		BaseURL:      p.BaseURL,
		APIKey:       apiKey,
		SystemPrompt: p.SystemPrompt,
		ContextLimit: p.ContextLimit,
		MaxTokens:    p.MaxTokens,
		Temperature:  p.Temperature,
	}, nil
}

// Compile-time interface check.
var _ domain.ProfileResolver = (*Resolver)(nil)
