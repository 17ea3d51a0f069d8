// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/lochat/internal/model"
)

//go:embed library.yaml
var builtinLibrary []byte

// ErrUnknownTechnique is returned when a technique name is not in the library.
var ErrUnknownTechnique = errors.New("unknown prompt technique")

// ErrUnknownPreset is returned when a preset name is not in the library.
var ErrUnknownPreset = errors.New("unknown parameter preset")

// =============================================================================
// LIBRARY TYPES
// =============================================================================

// Technique is a named prompt template.
type Technique struct {
	Name     string `yaml:"name"`
	Title    string `yaml:"title"`
	Template string `yaml:"template"`

	tmpl *template.Template
}

// Preset is a named set of sampling parameters.
type Preset struct {
	Name         string  `yaml:"name"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
	MaxNewTokens int     `yaml:"max_new_tokens"`
}

// Params converts the preset to session parameters.
func (p Preset) Params() model.Params {
	return model.Params{
		Temperature:  p.Temperature,
		TopP:         p.TopP,
		MaxNewTokens: p.MaxNewTokens,
	}
}

// Library holds prompt techniques, their default variables and presets.
type Library struct {
	Variables  map[string]string `yaml:"variables"`
	Techniques []*Technique      `yaml:"techniques"`
	Presets    []Preset          `yaml:"presets"`
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultLibrary returns the built-in library.
func DefaultLibrary() (*Library, error) {
	return ParseLibrary(builtinLibrary)
}

// LoadLibrary reads the built-in library and merges the YAML file at path
// over it. A missing file is not an error.
func LoadLibrary(path string) (*Library, error) {
	lib, err := DefaultLibrary()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return lib, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lib, nil
		}
		return nil, fmt.Errorf("failed to read prompt library: %w", err)
	}
	user, err := ParseLibrary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	lib.merge(user)
	return lib, nil
}

// ParseLibrary parses and compiles a YAML library document.
func ParseLibrary(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("failed to parse prompt library: %w", err)
	}
	if lib.Variables == nil {
		lib.Variables = map[string]string{}
	}
	for _, t := range lib.Techniques {
		if t.Name == "" {
			return nil, errors.New("prompt technique without a name")
		}
		tmpl, err := template.New(t.Name).Option("missingkey=error").Parse(t.Template)
		if err != nil {
			return nil, fmt.Errorf("technique %s: %w", t.Name, err)
		}
		t.tmpl = tmpl
		if t.Title == "" {
			t.Title = t.Name
		}
	}
	return &lib, nil
}

// merge overlays other onto l; entries with the same name are replaced.
func (l *Library) merge(other *Library) {
	for k, v := range other.Variables {
		l.Variables[k] = v
	}
	for _, t := range other.Techniques {
		if i := l.techniqueIndex(t.Name); i >= 0 {
			l.Techniques[i] = t
		} else {
			l.Techniques = append(l.Techniques, t)
		}
	}
	for _, p := range other.Presets {
		replaced := false
		for i := range l.Presets {
			if strings.EqualFold(l.Presets[i].Name, p.Name) {
				l.Presets[i] = p
				replaced = true
			}
		}
		if !replaced {
			l.Presets = append(l.Presets, p)
		}
	}
}

// =============================================================================
// LOOKUP AND RENDERING
// =============================================================================

func (l *Library) techniqueIndex(name string) int {
	for i, t := range l.Techniques {
		if strings.EqualFold(t.Name, name) {
			return i
		}
	}
	return -1
}

// Technique returns the technique with the given name.
func (l *Library) Technique(name string) (*Technique, error) {
	i := l.techniqueIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTechnique, name)
	}
	return l.Techniques[i], nil
}

// Render renders a technique. Overrides replace default variables of the
// same name; a variable that is referenced but defined nowhere is an error.
func (l *Library) Render(name string, overrides map[string]string) (string, error) {
	t, err := l.Technique(name)
	if err != nil {
		return "", err
	}

	vars := make(map[string]string, len(l.Variables)+len(overrides))
	for k, v := range l.Variables {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}

	var sb strings.Builder
	if err := t.tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("technique %s: %w", t.Name, err)
	}
	return sb.String(), nil
}

// VariableNames returns the default variable names, sorted.
func (l *Library) VariableNames() []string {
	names := make([]string, 0, len(l.Variables))
	for k := range l.Variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Preset returns the preset with the given name.
func (l *Library) Preset(name string) (Preset, error) {
	for _, p := range l.Presets {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}
