package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Render substitutes {{var}} placeholders in both templates.
//
// Missing required variables are an error; unknown placeholders are left as-is.
func (p *Prompt) Render(vars map[string]string) (string, string, error) {
	if p == nil {
		return "", "", errors.New("prompt is required")
	}
	for _, required := range p.Config.Input.RequiredVariables {
		if _, ok := vars[required]; !ok {
			return "", "", fmt.Errorf("prompt %s: required variable %q not provided", p.Config.Slug, required)
		}
	}

	system := applyVars(p.Config.SystemTemplate, vars)
	user := p.Config.UserTemplate
	if user == "" {
		user = "{{text}}"
	}
	user = applyVars(user, vars)

	if strings.TrimSpace(system) == "" {
		return "", "", errors.New("system prompt is required")
	}
	return system, user, nil
}

func applyVars(template string, vars map[string]string) string {
	// Longest keys first so {{text}} never clobbers a {{text_*}} variant.
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	result := template
	for _, key := range keys {
		result = strings.ReplaceAll(result, "{{"+key+"}}", vars[key])
	}
	return result
}
