package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary compiles cmd/docrewrite into a temp dir and returns its path.
func buildBinary(t *testing.T) string {
	t.Helper()
	gomod, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err)
	root := filepath.Dir(strings.TrimSpace(string(gomod)))
	require.NotEqual(t, ".", root, "go env GOMOD returned no module")

	binary := filepath.Join(t.TempDir(), "docrewrite")
	build := exec.Command("go", "build", "-o", binary, "./cmd/docrewrite")
	build.Dir = root
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)
	return binary
}

func TestStandaloneBinaryRunsOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec test is unix-only")
	}
	if testing.Short() {
		t.Skip("builds the binary")
	}

	built := buildBinary(t)
	data, err := os.ReadFile(built)
	require.NoError(t, err)

	// The embedded app identity must work without the repo's .fulmen dir.
	outside := t.TempDir()
	binary := filepath.Join(outside, "docrewrite")
	require.NoError(t, os.WriteFile(binary, data, 0o755))

	run := func(args ...string) string {
		cmd := exec.Command(binary, args...)
		cmd.Dir = outside
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v:\n%s", args, out)
		return string(out)
	}

	assert.Contains(t, run("version"), "docrewrite")
	help := run("--help")
	for _, sub := range []string{"serve", "rewrite", "status", "token", "doctor"} {
		assert.Contains(t, help, sub)
	}
	assert.Contains(t, run("rewrite", "--help"), "--style")
}
