package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var fence = []byte("---")

// Load parses a prompt file: YAML frontmatter between --- fences, then the
// system template as the markdown body. A file without fences is read as
// plain YAML.
func Load(source string, data []byte) (*Prompt, error) {
	front, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", source, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(front, &cfg); err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", source, err)
	}
	if strings.TrimSpace(cfg.SystemTemplate) == "" {
		cfg.SystemTemplate = strings.TrimSpace(string(body))
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("prompt %s: %w", source, err)
	}
	return &Prompt{Config: cfg, Source: source}, nil
}

// LoadFromDir loads every *.md prompt in dir, in name order.
func LoadFromDir(dir string) ([]*Prompt, error) {
	return LoadFromFS(os.DirFS(dir))
}

// LoadFromFS loads every *.md prompt at the root of fsys, in name order.
func LoadFromFS(fsys fs.FS) ([]*Prompt, error) {
	names, err := fs.Glob(fsys, "*.md")
	if err != nil {
		return nil, fmt.Errorf("scan prompts: %w", err)
	}
	sort.Strings(names)

	prompts := make([]*Prompt, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", name, err)
		}
		p, err := Load(name, data)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, nil
}

func splitFrontmatter(data []byte) (front, body []byte, err error) {
	text := bytes.TrimSpace(data)
	if len(text) == 0 {
		return nil, nil, errors.New("empty prompt")
	}
	if !bytes.HasPrefix(text, fence) {
		return text, nil, nil
	}

	rest := bytes.TrimLeft(text[len(fence):], " \t\r")
	if !bytes.HasPrefix(rest, []byte("\n")) {
		return nil, nil, errors.New("frontmatter fence must be on its own line")
	}
	rest = rest[1:]

	var closing int
	switch {
	case bytes.HasPrefix(rest, fence):
		closing = 0
	default:
		idx := bytes.Index(rest, []byte("\n---"))
		if idx < 0 {
			return nil, nil, errors.New("unterminated frontmatter")
		}
		closing = idx + 1
	}
	front = rest[:closing]
	body = rest[closing+len(fence):]
	return front, bytes.TrimSpace(body), nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Slug) == "" {
		return errors.New("slug is required")
	}
	if strings.TrimSpace(c.SystemTemplate) == "" {
		return errors.New("system template is empty")
	}
	for _, name := range c.Input.RequiredVariables {
		placeholder := "{{" + name + "}}"
		if !strings.Contains(c.UserTemplate, placeholder) && !strings.Contains(c.SystemTemplate, placeholder) {
			return fmt.Errorf("required variable %q is not referenced by any template", name)
		}
	}
	return nil
}
