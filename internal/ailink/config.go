package ailink

import "time"

// Config is the ailink subtree of the service configuration.
type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`

	// RequestsPerMinute is the process-wide outbound budget; 0 means no cap.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// PromptsDir holds *.md prompts that replace the built-in ones by slug.
	PromptsDir string `mapstructure:"prompts_dir"`

	Providers map[string]ProviderInstanceConfig `mapstructure:"providers"`
}

// ProviderInstanceConfig is one named provider, keyed in Config.Providers.
type ProviderInstanceConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AIProvider selects the driver: "openai" or "openai_compatible".
	AIProvider string `mapstructure:"ai_provider"`

	// SelectionPolicy is "round_robin" (all enabled keys) or "priority"
	// (only the highest-priority group rotates).
	SelectionPolicy string `mapstructure:"selection_policy"`

	BaseURL string `mapstructure:"base_url"`

	// Models["default"] is used unless the request names a model.
	Models map[string]string `mapstructure:"models"`

	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is one API key in the rotation pool.
type CredentialConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Label    string `mapstructure:"label"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
}
