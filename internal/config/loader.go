// Package config provides centralized configuration management for docrewrite.
//
// Values are layered, lowest precedence first:
//  1. Built-in defaults
//  2. A YAML config file (explicit path or the XDG user config)
//  3. Environment variables ({PREFIX}*)
//  4. Runtime overrides passed by the caller
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/docrewrite/docrewrite/internal/appid"
)

// DefaultModel is the fine-tuned rewrite model used when no model is configured.
const DefaultModel = "ft:gpt-3.5-turbo-0125:personal::9hpCfvVt"

var (
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity
)

// LoadOptions controls a single Load call.
type LoadOptions struct {
	// ConfigFile is an explicit YAML file. When empty, the first existing
	// user config path is used, if any.
	ConfigFile string
	// Overrides are applied last, as nested maps keyed like the YAML file.
	Overrides map[string]any
}

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// Load resolves configuration and stores it for GetConfig.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if appIdentity == nil {
		// The embedded identity normally resolves; fall back to built-in
		// names rather than refusing to start.
		if identity, err := appid.Get(ctx); err == nil {
			appIdentity = identity
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if path := resolveConfigFile(opts.ConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	prefix := appid.EnvPrefix(appIdentity)
	applyAILinkDynamicEnvOverrides(prefix, envOverrides)
	applyOpenAIKeyList(prefix, envOverrides)

	if value := strings.TrimSpace(os.Getenv(prefix + "ADMISSION_MARGIN")); value != "" {
		margin, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admission margin: %w", err)
		}
		ensureMap(envOverrides, "admission")["margin"] = margin
	}

	if err := v.MergeConfigMap(envOverrides); err != nil {
		return nil, fmt.Errorf("failed to merge environment overrides: %w", err)
	}
	if len(opts.Overrides) > 0 {
		if err := v.MergeConfigMap(opts.Overrides); err != nil {
			return nil, fmt.Errorf("failed to merge runtime overrides: %w", err)
		}
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Admission.Enabled && c.Admission.Limit <= 0 {
		errs = append(errs, fmt.Errorf("admission.limit must be positive, got %d", c.Admission.Limit))
	}
	if c.Admission.Enabled && c.Admission.Window <= 0 {
		errs = append(errs, fmt.Errorf("admission.window must be positive, got %s", c.Admission.Window))
	}
	if c.Admission.Margin < 0 || c.Admission.Margin > 1 {
		errs = append(errs, fmt.Errorf("admission.margin must be within [0,1], got %v", c.Admission.Margin))
	}
	switch c.Admission.Backend {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("admission.backend %q is not supported", c.Admission.Backend))
	}
	switch c.Jobs.Backend {
	case "", "memory", "libsql":
	default:
		errs = append(errs, fmt.Errorf("jobs.backend %q is not supported", c.Jobs.Backend))
	}
	if c.Rewrite.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("rewrite.batch_size must not be negative, got %d", c.Rewrite.BatchSize))
	}
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 && strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth is enabled but neither auth.api_keys nor auth.jwt_secret is set"))
	}
	return errors.Join(errs...)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func defaults() map[string]any {
	return map[string]any{
		"server.host":             "localhost",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "5m",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",
		"server.max_upload_bytes": 10 << 20,

		"cors.allowed_origins": []string{"*"},

		"auth.enabled":   false,
		"auth.token_ttl": "24h",
		"auth.issuer":    "docrewrite",

		"admission.enabled":        true,
		"admission.limit":          900,
		"admission.window":         "60s",
		"admission.margin":         1.0,
		"admission.backend":        "memory",
		"admission.sweep_interval": "5m",
		"admission.redis.addr":     "localhost:6379",
		"admission.redis.prefix":   "docrewrite:admission:",

		"rewrite.default_style":         "scholar",
		"rewrite.batch_size":            5,
		"rewrite.temperature":           1.0,
		"rewrite.cleanup_temperature":   0.3,
		"rewrite.retry.max_attempts":    3,
		"rewrite.retry.initial_delay":   "250ms",
		"rewrite.retry.max_delay":       "10s",
		"rewrite.retry.multiplier":      2.0,
		"rewrite.retry.jitter_fraction": 0.1,

		"jobs.backend":        "memory",
		"jobs.workers":        4,
		"jobs.queue_size":     64,
		"jobs.retention":      "1h",
		"jobs.sweep_interval": "5m",

		"store.driver": "libsql",

		"ailink.default_provider":                  "openai",
		"ailink.default_timeout":                   "60s",
		"ailink.requests_per_minute":               900,
		"ailink.providers.openai.enabled":          true,
		"ailink.providers.openai.ai_provider":      "openai",
		"ailink.providers.openai.selection_policy": "round_robin",
		"ailink.providers.openai.base_url":         "https://api.openai.com/v1",
		"ailink.providers.openai.models.default":   DefaultModel,

		"logging.level":   "info",
		"logging.profile": "SIMPLE",

		"metrics.enabled": true,
		"metrics.port":    9090,

		"health.enabled": true,

		"debug.enabled":       false,
		"debug.pprof_enabled": false,
	}
}

func resolveConfigFile(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	for _, dir := range getUserConfigPaths() {
		for _, name := range []string{"config.yaml", "config.yml"} {
			candidate := dir
			if filepath.Ext(dir) == "" {
				candidate = filepath.Join(dir, name)
			}
			if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

// getUserConfigPaths returns the list of user config locations to check.
// Uses gofulmen/config for XDG-compliant path discovery.
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()
	legacyNames := []string{}
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}
	return gfconfig.GetAppConfigPaths(configName, legacyNames...)
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := appid.EnvPrefix(appIdentity)

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "MAX_UPLOAD_BYTES", Path: []string{"server", "max_upload_bytes"}, Type: EnvInt},

		{Name: prefix + "CORS_ORIGINS", Path: []string{"cors", "allowed_origins"}, Type: EnvString},

		{Name: prefix + "AUTH_ENABLED", Path: []string{"auth", "enabled"}, Type: EnvBool},
		{Name: prefix + "AUTH_API_KEYS", Path: []string{"auth", "api_keys"}, Type: EnvString},
		{Name: prefix + "AUTH_JWT_SECRET", Path: []string{"auth", "jwt_secret"}, Type: EnvString},
		{Name: prefix + "AUTH_TOKEN_TTL", Path: []string{"auth", "token_ttl"}, Type: EnvString},

		{Name: prefix + "ADMISSION_ENABLED", Path: []string{"admission", "enabled"}, Type: EnvBool},
		{Name: prefix + "ADMISSION_LIMIT", Path: []string{"admission", "limit"}, Type: EnvInt},
		{Name: prefix + "ADMISSION_WINDOW", Path: []string{"admission", "window"}, Type: EnvString},
		{Name: prefix + "ADMISSION_BACKEND", Path: []string{"admission", "backend"}, Type: EnvString},
		{Name: prefix + "REDIS_ADDR", Path: []string{"admission", "redis", "addr"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"admission", "redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"admission", "redis", "db"}, Type: EnvInt},

		{Name: prefix + "REWRITE_DEFAULT_STYLE", Path: []string{"rewrite", "default_style"}, Type: EnvString},
		{Name: prefix + "REWRITE_BATCH_SIZE", Path: []string{"rewrite", "batch_size"}, Type: EnvInt},
		{Name: prefix + "REWRITE_RETRY_MAX_ATTEMPTS", Path: []string{"rewrite", "retry", "max_attempts"}, Type: EnvInt},

		{Name: prefix + "JOBS_BACKEND", Path: []string{"jobs", "backend"}, Type: EnvString},
		{Name: prefix + "JOBS_WORKERS", Path: []string{"jobs", "workers"}, Type: EnvInt},
		{Name: prefix + "JOBS_QUEUE_SIZE", Path: []string{"jobs", "queue_size"}, Type: EnvInt},
		{Name: prefix + "JOBS_RETENTION", Path: []string{"jobs", "retention"}, Type: EnvString},

		// Logging config (REQUIRED per Workhorse Standard)
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// AILink config
		{Name: prefix + "AILINK_DEFAULT_PROVIDER", Path: []string{"ailink", "default_provider"}, Type: EnvString},
		{Name: prefix + "AILINK_DEFAULT_TIMEOUT", Path: []string{"ailink", "default_timeout"}, Type: EnvString},
		{Name: prefix + "AILINK_REQUESTS_PER_MINUTE", Path: []string{"ailink", "requests_per_minute"}, Type: EnvInt},
		{Name: prefix + "AILINK_PROMPTS_DIR", Path: []string{"ailink", "prompts_dir"}, Type: EnvString},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "docrewrite" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	binaryName = appid.BinaryName(appIdentity)
	configName = binaryName
	if appIdentity != nil && strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant path to the job database file.
func DefaultStorePath() string {
	configName, binaryName := appNamesForPaths()
	dataDir := gfconfig.GetAppDataDir(configName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + binaryName + ".db"
	}
	return filepath.Join(dataDir, binaryName+".db")
}

// applyOpenAIKeyList turns {PREFIX}OPENAI_API_KEYS=k1,k2 into credentials on
// the default openai provider, unless indexed credentials were set explicitly.
func applyOpenAIKeyList(prefix string, envOverrides map[string]any) {
	raw := strings.TrimSpace(os.Getenv(prefix + "OPENAI_API_KEYS"))
	if raw == "" {
		return
	}

	ailink := ensureMap(envOverrides, "ailink")
	providers := ensureMap(ailink, "providers")
	provider := ensureMap(providers, "openai")
	if _, ok := provider["credentials"]; ok {
		return
	}

	creds := []any{}
	for _, key := range strings.Split(raw, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		creds = append(creds, map[string]any{
			"enabled": true,
			"label":   fmt.Sprintf("key-%d", len(creds)),
			"api_key": key,
		})
	}
	if len(creds) > 0 {
		provider["credentials"] = creds
	}
}

func applyAILinkDynamicEnvOverrides(prefix string, envOverrides map[string]any) {
	providerPrefix := prefix + "AILINK_PROVIDERS_"

	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(key, providerPrefix) {
			applyAILinkProviderOverride(envOverrides, key[len(providerPrefix):], value)
		}
	}
}

func applyAILinkProviderOverride(envOverrides map[string]any, raw string, value string) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) < 2 {
		return
	}

	section := -1
	for i, part := range parts {
		switch part {
		case "ENABLED", "AI", "BASE", "MODELS", "CREDENTIALS", "SELECTION":
			section = i
		}
		if section != -1 {
			break
		}
	}
	if section <= 0 {
		return
	}

	providerID := toSlug(strings.Join(parts[:section], "_"))
	if providerID == "" {
		return
	}

	ailink := ensureMap(envOverrides, "ailink")
	providers := ensureMap(ailink, "providers")
	provider := ensureMap(providers, providerID)

	rest := parts[section:]
	switch {
	case len(rest) == 1 && rest[0] == "ENABLED":
		provider["enabled"] = strings.EqualFold(strings.TrimSpace(value), "true")
	case len(rest) == 2 && rest[0] == "AI" && rest[1] == "PROVIDER":
		provider["ai_provider"] = strings.ToLower(strings.TrimSpace(value))
	case len(rest) == 2 && rest[0] == "SELECTION" && rest[1] == "POLICY":
		provider["selection_policy"] = strings.ToLower(strings.TrimSpace(value))
	case len(rest) == 2 && rest[0] == "BASE" && rest[1] == "URL":
		provider["base_url"] = strings.TrimSpace(value)
	case len(rest) >= 2 && rest[0] == "MODELS":
		modelKey := strings.ToLower(strings.Join(rest[1:], "_"))
		models := ensureMap(provider, "models")
		models[modelKey] = strings.TrimSpace(value)
	case len(rest) >= 3 && rest[0] == "CREDENTIALS":
		idx, err := strconv.Atoi(rest[1])
		if err != nil || idx < 0 {
			return
		}
		field := strings.ToLower(strings.Join(rest[2:], "_"))
		if field == "" {
			return
		}

		creds := ensureSlice(provider, "credentials", idx+1)
		cred := ensureSliceMap(creds, idx)
		switch field {
		case "priority":
			if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				cred[field] = parsed
			} else {
				cred[field] = strings.TrimSpace(value)
			}
		case "enabled":
			cred[field] = strings.EqualFold(strings.TrimSpace(value), "true")
		default:
			cred[field] = strings.TrimSpace(value)
		}
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	var existing []any
	if raw, ok := parent[key]; ok {
		existing, _ = raw.([]any)
	}
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if idx < 0 || idx >= len(slice) {
		return map[string]any{}
	}
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}

func toSlug(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "-")
}
