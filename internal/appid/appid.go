// Package appid resolves the docrewrite application identity.
package appid

import (
	"context"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/docrewrite/docrewrite/internal/assets/appidentity"
)

const (
	// FallbackBinaryName is used when no identity can be resolved.
	FallbackBinaryName = "docrewrite"
	// FallbackEnvPrefix is used when no identity can be resolved.
	FallbackEnvPrefix = "DOCREWRITE_"
)

func init() {
	// Explicit identity paths (FULMEN_APP_IDENTITY_PATH) still win over the
	// embedded copy.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity env prefix with a trailing underscore.
func EnvPrefix(identity *appidentity.Identity) string {
	prefix := FallbackEnvPrefix
	if identity != nil && strings.TrimSpace(identity.EnvPrefix) != "" {
		prefix = strings.TrimSpace(identity.EnvPrefix)
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// BinaryName returns the identity binary name or the fallback.
func BinaryName(identity *appidentity.Identity) string {
	if identity != nil && strings.TrimSpace(identity.BinaryName) != "" {
		return identity.BinaryName
	}
	return FallbackBinaryName
}
