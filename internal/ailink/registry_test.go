package ailink

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docrewrite/docrewrite/internal/ailink/driver/openai"
)

func testConfig(keys ...string) Config {
	creds := make([]CredentialConfig, 0, len(keys))
	for _, key := range keys {
		creds = append(creds, CredentialConfig{Enabled: true, APIKey: key})
	}
	return Config{
		DefaultProvider: "openai",
		Providers: map[string]ProviderInstanceConfig{
			"openai": {
				Enabled:     true,
				AIProvider:  "openai",
				Models:      map[string]string{"default": "m-default"},
				Credentials: creds,
			},
		},
	}
}

func TestNewRegistryFailsOnEmptyPool(t *testing.T) {
	_, err := NewRegistry(testConfig())
	require.ErrorIs(t, err, ErrExhaustedPool)

	_, err = NewRegistry(testConfig("", "  "))
	require.ErrorIs(t, err, ErrExhaustedPool)
}

func TestNewRegistryRequiresProvider(t *testing.T) {
	_, err := NewRegistry(Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no enabled providers")

	cfg := testConfig("k1")
	cfg.DefaultProvider = "missing"
	_, err = NewRegistry(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not configured")
}

func TestNewRegistryRejectsAmbiguousProviders(t *testing.T) {
	cfg := testConfig("k1")
	cfg.DefaultProvider = ""
	cfg.Providers["other"] = ProviderInstanceConfig{Enabled: true, Credentials: []CredentialConfig{{APIKey: "k2"}}}
	_, err := NewRegistry(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "default_provider")
}

func TestResolveRotatesCredentialsAndCachesDrivers(t *testing.T) {
	reg, err := NewRegistry(testConfig("k1", "k2"))
	require.NoError(t, err)

	first, err := reg.Resolve("")
	require.NoError(t, err)
	second, err := reg.Resolve("")
	require.NoError(t, err)
	third, err := reg.Resolve("")
	require.NoError(t, err)

	require.Equal(t, "k1", first.Credential.APIKey)
	require.Equal(t, "k2", second.Credential.APIKey)
	require.Equal(t, "k1", third.Credential.APIKey)
	require.Same(t, first.Driver, third.Driver)
	require.NotSame(t, first.Driver, second.Driver)
	require.Equal(t, "m-default", first.Model)

	client, ok := first.Driver.(*openai.Client)
	require.True(t, ok)
	require.Equal(t, "k1", client.APIKey)
}

func TestSelectCredentialsPriorityGroup(t *testing.T) {
	cfg := ProviderInstanceConfig{Credentials: []CredentialConfig{
		{Enabled: true, Label: "low", APIKey: "k-low", Priority: 1},
		{Enabled: true, Label: "high-a", APIKey: "k-a", Priority: 5},
		{Enabled: false, Label: "disabled", APIKey: "k-off", Priority: 5},
		{Enabled: true, Label: "high-b", APIKey: "k-b", Priority: 5},
	}}

	pool := selectCredentials(cfg)
	require.Equal(t, []Credential{{Label: "high-a", APIKey: "k-a"}, {Label: "high-b", APIKey: "k-b"}}, pool)

	cfg.SelectionPolicy = "priority"
	pool = selectCredentials(cfg)
	require.Equal(t, []Credential{{Label: "high-a", APIKey: "k-a"}}, pool)
}

func TestResolveModelUsesOverrideFirst(t *testing.T) {
	providerCfg := ProviderInstanceConfig{Models: map[string]string{"default": "m-default"}}

	model, err := resolveModel(providerCfg, "override-model")
	require.NoError(t, err)
	require.Equal(t, "override-model", model)

	model, err = resolveModel(providerCfg, "")
	require.NoError(t, err)
	require.Equal(t, "m-default", model)

	_, err = resolveModel(ProviderInstanceConfig{}, "")
	require.Error(t, err)
}

func TestOpenAICompatibleProviderName(t *testing.T) {
	cfg := testConfig("k1")
	p := cfg.Providers["openai"]
	p.AIProvider = "openai_compatible"
	cfg.Providers["openai"] = p

	reg, err := NewRegistry(cfg)
	require.NoError(t, err)
	resolved, err := reg.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "openai", resolved.Driver.Name())

	p.AIProvider = "anthropic"
	cfg.Providers["openai"] = p
	reg, err = NewRegistry(cfg)
	require.NoError(t, err)
	_, err = reg.Resolve("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported ai_provider")
}
