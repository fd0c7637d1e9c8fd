package ailink

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/docrewrite/docrewrite/internal/ailink/driver"
	"github.com/docrewrite/docrewrite/internal/ailink/driver/openai"
)

// Registry binds the selected provider instance to its credential rotator and
// caches one driver per credential.
type Registry struct {
	cfg Config

	providerID string
	provider   ProviderInstanceConfig
	rotator    *KeyRotator

	mu      sync.Mutex
	drivers map[string]driver.Driver
}

type ResolvedProvider struct {
	ProviderID string
	Credential Credential
	Driver     driver.Driver
	Model      string
}

// NewRegistry selects the provider and builds its credential pool.
//
// It fails with ErrExhaustedPool when the provider has no usable credential.
func NewRegistry(cfg Config) (*Registry, error) {
	providerID, providerCfg, err := resolveProvider(cfg)
	if err != nil {
		return nil, err
	}

	rotator, err := NewKeyRotator(selectCredentials(providerCfg))
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", providerID, err)
	}

	return &Registry{
		cfg:        cfg,
		providerID: providerID,
		provider:   providerCfg,
		rotator:    rotator,
	}, nil
}

// ProviderID returns the selected provider instance id.
func (r *Registry) ProviderID() string {
	return r.providerID
}

// Rotator exposes the credential pool.
func (r *Registry) Rotator() *KeyRotator {
	return r.rotator
}

// Resolve takes the next credential and returns the driver and model to use.
func (r *Registry) Resolve(modelOverride string) (*ResolvedProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}

	cred := r.rotator.Next()
	drv, err := r.driverFor(cred)
	if err != nil {
		return nil, err
	}

	model, err := resolveModel(r.provider, modelOverride)
	if err != nil {
		return nil, err
	}

	return &ResolvedProvider{
		ProviderID: r.providerID,
		Credential: cred,
		Driver:     drv,
		Model:      model,
	}, nil
}

// ResolveCredential returns the driver bound to a specific credential without
// advancing the rotation.
func (r *Registry) ResolveCredential(cred Credential, modelOverride string) (*ResolvedProvider, error) {
	drv, err := r.driverFor(cred)
	if err != nil {
		return nil, err
	}
	model, err := resolveModel(r.provider, modelOverride)
	if err != nil {
		return nil, err
	}
	return &ResolvedProvider{ProviderID: r.providerID, Credential: cred, Driver: drv, Model: model}, nil
}

func resolveProvider(cfg Config) (string, ProviderInstanceConfig, error) {
	if id := strings.TrimSpace(cfg.DefaultProvider); id != "" {
		providerCfg, ok := cfg.Providers[id]
		if !ok {
			return "", ProviderInstanceConfig{}, fmt.Errorf("default provider %q not configured", id)
		}
		if !providerCfg.Enabled {
			return "", ProviderInstanceConfig{}, fmt.Errorf("default provider %q is disabled", id)
		}
		return id, providerCfg, nil
	}

	ids := make([]string, 0, len(cfg.Providers))
	for id, providerCfg := range cfg.Providers {
		if providerCfg.Enabled {
			ids = append(ids, id)
		}
	}
	switch len(ids) {
	case 0:
		return "", ProviderInstanceConfig{}, fmt.Errorf("no enabled providers configured")
	case 1:
		return ids[0], cfg.Providers[ids[0]], nil
	default:
		sort.Strings(ids)
		return "", ProviderInstanceConfig{}, fmt.Errorf("multiple providers enabled (%s); set default_provider", strings.Join(ids, ", "))
	}
}

// selectCredentials returns the rotation pool: enabled credentials in the
// highest priority group, or only the first of them under the priority policy.
func selectCredentials(cfg ProviderInstanceConfig) []Credential {
	enabled := make([]CredentialConfig, 0, len(cfg.Credentials))
	for _, cred := range cfg.Credentials {
		if !cred.Enabled && strings.TrimSpace(cred.Label) != "" {
			continue
		}
		if strings.TrimSpace(cred.APIKey) == "" {
			continue
		}
		enabled = append(enabled, cred)
	}
	if len(enabled) == 0 {
		return nil
	}

	highest := enabled[0].Priority
	for _, cred := range enabled[1:] {
		if cred.Priority > highest {
			highest = cred.Priority
		}
	}

	pool := make([]Credential, 0, len(enabled))
	for i, cred := range enabled {
		if cred.Priority != highest {
			continue
		}
		label := strings.TrimSpace(cred.Label)
		if label == "" {
			label = fmt.Sprintf("key-%d", i)
		}
		pool = append(pool, Credential{Label: label, APIKey: strings.TrimSpace(cred.APIKey)})
	}

	policy := strings.ToLower(strings.TrimSpace(cfg.SelectionPolicy))
	if policy == "priority" && len(pool) > 1 {
		pool = pool[:1]
	}
	return pool
}

func (r *Registry) driverFor(cred Credential) (driver.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers == nil {
		r.drivers = map[string]driver.Driver{}
	}
	driverKey := r.providerID + ":" + cred.Label
	if drv, ok := r.drivers[driverKey]; ok {
		return drv, nil
	}

	providerType := strings.ToLower(strings.TrimSpace(r.provider.AIProvider))
	switch providerType {
	case "openai", "openai_compatible", "":
		client := openai.NewClient(r.provider.BaseURL, cred.APIKey)
		if providerType == "openai_compatible" {
			client.Provider = r.providerID
		}
		r.drivers[driverKey] = client
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported ai_provider %q for provider %q", providerType, r.providerID)
	}
}

func resolveModel(providerCfg ProviderInstanceConfig, override string) (string, error) {
	model := strings.TrimSpace(override)
	if model != "" {
		return model, nil
	}

	if providerCfg.Models != nil {
		model = strings.TrimSpace(providerCfg.Models["default"])
		if model != "" {
			return model, nil
		}
	}

	return "", fmt.Errorf("model not configured")
}
