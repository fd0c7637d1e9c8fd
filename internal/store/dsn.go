package store

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/docrewrite/docrewrite/internal/config"
)

// buildLibsqlDSN resolves the connection string. A remote URL wins over a
// path; bare paths are turned into file: DSNs.
func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		return withAuthToken(remote, strings.TrimSpace(cfg.AuthToken))
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	dsn, local := path, path
	if strings.HasPrefix(path, "file:") {
		u, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid store path: %w", err)
		}
		local = u.Path
		if local == "" {
			local = u.Opaque
		}
		local = strings.TrimPrefix(local, "//")
	} else {
		local = filepath.Clean(path)
		dsn = "file:" + local
	}

	if err := mkParent(local); err != nil {
		return "", err
	}
	return dsn, nil
}

// withAuthToken adds authToken to the query unless the URL already has one.
func withAuthToken(remote, token string) (string, error) {
	if token == "" {
		return remote, nil
	}
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := u.Query()
	if q.Has("authToken") {
		return remote, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mkParent(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- shared data directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
