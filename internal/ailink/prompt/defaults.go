package prompt

import (
	"embed"
	"io/fs"
	"strings"
)

//go:embed prompts/*.md
var embedded embed.FS

// LoadDefaults loads the prompts compiled into the binary.
func LoadDefaults() ([]*Prompt, error) {
	sub, err := fs.Sub(embedded, "prompts")
	if err != nil {
		return nil, err
	}
	return LoadFromFS(sub)
}

// DefaultRegistry builds a registry from the compiled-in prompts.
func DefaultRegistry() (Registry, error) {
	return RegistryWithOverrides("")
}

// RegistryWithOverrides layers the prompts in dir over the compiled-in set,
// replacing any with the same slug. An empty dir yields the defaults.
func RegistryWithOverrides(dir string) (Registry, error) {
	prompts, err := LoadDefaults()
	if err != nil {
		return nil, err
	}
	set, err := NewSet(prompts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return set, nil
	}

	overrides, err := LoadFromDir(dir)
	if err != nil {
		return nil, err
	}
	return set.Overlay(overrides), nil
}
