// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// COMPOSE TESTS
// =============================================================================

func sessionWith(n int) *model.Session {
	s := model.NewSession("s1", model.DefaultSessionConfig())
	s.SystemPrompt = "Be brief."
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		s.AppendMessage(model.NewMessage(role, fmt.Sprintf("m%d", i), nil))
	}
	return s
}

func TestCompose_Format(t *testing.T) {
	s := sessionWith(3)
	want := "[SYSTEM]\nBe brief.\n\n[USER]\nm0\n\n[ASSISTANT]\nm1\n\n[USER]\nm2"
	if got := Compose(s); got != want {
		t.Errorf("Compose() =\n%q\nwant\n%q", got, want)
	}
}

func TestCompose_Window(t *testing.T) {
	tests := []struct {
		messages  int
		wantFirst int
		wantCount int
	}{
		{0, 0, 0},
		{3, 0, 3},
		{10, 0, 10},
		{15, 5, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d messages", tt.messages), func(t *testing.T) {
			got := Compose(sessionWith(tt.messages))
			parts := strings.Split(got, "\n\n")
			require.Len(t, parts, tt.wantCount+1)
			require.Equal(t, "[SYSTEM]\nBe brief.", parts[0])
			for i := 0; i < tt.wantCount; i++ {
				require.True(t, strings.HasSuffix(parts[i+1], fmt.Sprintf("\nm%d", tt.wantFirst+i)),
					"part %d = %q", i+1, parts[i+1])
			}
		})
	}
}

func TestCompose_DoesNotMutate(t *testing.T) {
	s := sessionWith(12)
	before := s.MessageCount()
	first := Compose(s)
	second := Compose(s)
	require.Equal(t, first, second)
	require.Equal(t, before, s.MessageCount())
}

// =============================================================================
// LIBRARY TESTS
// =============================================================================

func TestDefaultLibrary(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)
	require.Len(t, lib.Techniques, 4)
	require.ElementsMatch(t,
		[]string{"constraints", "examples", "format", "goal", "language", "role", "schema", "task"},
		lib.VariableNames())

	for _, tech := range lib.Techniques {
		out, err := lib.Render(tech.Name, nil)
		require.NoError(t, err, tech.Name)
		require.NotEmpty(t, out)
		require.NotContains(t, out, "{{")
	}
}

func TestLibrary_RenderOverrides(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	out, err := lib.Render("Zero-Shot", map[string]string{"language": "Traditional Chinese"})
	require.NoError(t, err)
	require.Contains(t, out, "Language: Traditional Chinese")
	require.Contains(t, out, "Role: "+lib.Variables["role"])
}

func TestLibrary_Errors(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	_, err = lib.Render("nope", nil)
	require.True(t, errors.Is(err, ErrUnknownTechnique))

	_, err = lib.Preset("turbo")
	require.True(t, errors.Is(err, ErrUnknownPreset))

	custom, err := ParseLibrary([]byte("techniques:\n  - name: t\n    template: \"{{.missing}}\"\n"))
	require.NoError(t, err)
	_, err = custom.Render("t", nil)
	require.Error(t, err)
}

func TestLibrary_Presets(t *testing.T) {
	lib, err := DefaultLibrary()
	require.NoError(t, err)

	tests := []struct {
		name string
		want model.Params
	}{
		{"creative", model.Params{Temperature: 1.2, TopP: 0.95, MaxNewTokens: 1024}},
		{"precise", model.Params{Temperature: 0.3, TopP: 0.8, MaxNewTokens: 512}},
		{"code", model.Params{Temperature: 0.2, TopP: 0.9, MaxNewTokens: 2048}},
		{"Balanced", model.DefaultParams()},
	}
	for _, tt := range tests {
		p, err := lib.Preset(tt.name)
		require.NoError(t, err)
		require.Equal(t, tt.want, p.Params(), tt.name)
	}
}

func TestLoadLibrary_Merge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	doc := `
variables:
  language: "Deutsch"
techniques:
  - name: zero-shot
    template: "Only {{.task}}"
  - name: haiku
    title: Haiku
    template: "Answer as a haiku in {{.language}}."
presets:
  - name: code
    temperature: 0.1
    top_p: 0.5
    max_new_tokens: 4096
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	lib, err := LoadLibrary(path)
	require.NoError(t, err)
	require.Len(t, lib.Techniques, 5)

	out, err := lib.Render("haiku", nil)
	require.NoError(t, err)
	require.Equal(t, "Answer as a haiku in Deutsch.", out)

	out, err = lib.Render("zero-shot", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Only "))

	p, err := lib.Preset("code")
	require.NoError(t, err)
	require.Equal(t, 4096, p.MaxNewTokens)

	// A missing file falls back to the built-in library.
	lib, err = LoadLibrary(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Len(t, lib.Techniques, 4)
}
