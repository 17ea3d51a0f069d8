// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lochat/internal/model"
)

// =============================================================================
// FIXTURES
// =============================================================================

func sampleSessions() []*model.Session {
	empty := model.NewSession("s_a", model.DefaultSessionConfig())

	one := model.NewSession("s_b", model.DefaultSessionConfig())
	one.Title = "One message"
	one.Pinned = true
	one.Tags = []string{"work", "go"}
	one.Stop = []string{"###"}
	one.Params = model.Params{Temperature: 1.2, TopP: 0.95, MaxNewTokens: 1024}
	one.AppendMessage(model.NewMessage(model.RoleUser, "hello", nil))

	many := model.NewSession("s_c", model.DefaultSessionConfig())
	many.SystemPrompt = "Be terse."
	many.AppendMessage(model.NewMessage(model.RoleUser, "look at this", []string{"/tmp/a.png", "/tmp/b.txt"}))
	many.AppendMessage(model.NewMessage(model.RoleAssistant, "Looks fine. 看起來不錯", nil))
	many.AppendMessage(model.NewMessage(model.RoleSystem, "", nil))

	return []*model.Session{empty, one, many}
}

// requireEquivalent compares every persisted field of two session lists.
func requireEquivalent(t *testing.T, want, got []*model.Session) {
	t.Helper()
	require.Len(t, got, len(want))
	byID := make(map[string]*model.Session)
	for _, s := range got {
		byID[s.ID] = s
	}
	for _, w := range want {
		g, ok := byID[w.ID]
		require.True(t, ok, "missing session %s", w.ID)
		require.Equal(t, w.Title, g.Title)
		require.Equal(t, w.Model, g.Model)
		require.Equal(t, w.Pinned, g.Pinned)
		require.Equal(t, w.Tags, g.Tags)
		require.Equal(t, w.SystemPrompt, g.SystemPrompt)
		require.Equal(t, w.Params, g.Params)
		require.Equal(t, w.Stop, g.Stop)
		require.True(t, w.CreatedAt.Equal(g.CreatedAt), "created_at %v != %v", w.CreatedAt, g.CreatedAt)

		wm, gm := w.Messages(), g.Messages()
		require.Len(t, gm, len(wm))
		for i := range wm {
			require.Equal(t, wm[i].Role, gm[i].Role)
			require.Equal(t, wm[i].Content(), gm[i].Content())
			require.True(t, wm[i].Timestamp.Equal(gm[i].Timestamp), "message %d timestamp", i)
			require.Equal(t, wm[i].Attachments(), gm[i].Attachments())
		}
	}
}

// =============================================================================
// JSON FILE TESTS
// =============================================================================

func TestJSONFile_RoundTrip(t *testing.T) {
	cases := map[string][]*model.Session{
		"none": {},
		"one":  sampleSessions()[1:2],
		"many": sampleSessions(),
	}
	for name, sessions := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p := NewJSONFile(filepath.Join(t.TempDir(), "sessions.json"))

			require.NoError(t, p.Save(ctx, sessions))
			got, err := p.Load(ctx)
			require.NoError(t, err)
			requireEquivalent(t, sessions, got)
		})
	}
}

func TestJSONFile_EmptyAttachmentsEncodeAsArray(t *testing.T) {
	sessions := sampleSessions()
	data, err := EncodeDocument(sessions)
	require.NoError(t, err)
	require.Contains(t, string(data), `"attachments": []`)
	require.NotContains(t, string(data), `null`)
}

func TestJSONFile_MissingFile(t *testing.T) {
	p := NewJSONFile(filepath.Join(t.TempDir(), "nope.json"))
	got, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestJSONFile_Corrupt(t *testing.T) {
	tests := map[string]string{
		"not json":     "{not json",
		"wrong type":   `{"s1": {"pinned": "yes"}}`,
		"bad role":     `{"s1": {"messages": [{"role": "robot", "content": "x"}]}}`,
		"no content":   `{"s1": {"messages": [{"role": "user"}]}}`,
		"array at top": `[1, 2, 3]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sessions.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0600))

			_, err := NewJSONFile(path).Load(context.Background())
			require.Error(t, err)
			var perr *PersistenceError
			require.True(t, errors.As(err, &perr))
			require.Equal(t, "load", perr.Op)
		})
	}
}

func TestDecodeDocument_Defaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	data := []byte(`{
		"s_legacy": {
			"title": "Old chat",
			"sys_prompt": "legacy prompt",
			"params": {"temperature": 0.2, "max_new_tokens": 2048.0},
			"created_at": 1600000000.5,
			"messages": [
				{"role": "user", "content": "hi", "ts": 1600000001.25},
				{"role": "assistant", "content": "hello"}
			]
		},
		"s_bare": {}
	}`)

	sessions, err := DecodeDocument(data, now)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	bare, legacy := sessions[0], sessions[1]
	require.Equal(t, "s_bare", bare.ID)
	require.Equal(t, model.DefaultTitle, bare.Title)
	require.Equal(t, model.DefaultModel, bare.Model)
	require.False(t, bare.Pinned)
	require.Equal(t, model.DefaultSystemPrompt, bare.SystemPrompt)
	require.Equal(t, model.DefaultParams(), bare.Params)
	require.Equal(t, []string{}, bare.Stop)
	require.Equal(t, []string{}, bare.Tags)
	require.True(t, bare.CreatedAt.Equal(now))

	require.Equal(t, "s_legacy", legacy.ID)
	require.Equal(t, "legacy prompt", legacy.SystemPrompt)
	require.Equal(t, 0.2, legacy.Params.Temperature)
	require.Equal(t, 0.9, legacy.Params.TopP)
	require.Equal(t, 2048, legacy.Params.MaxNewTokens)

	msgs := legacy.Messages()
	require.Len(t, msgs, 2)
	require.True(t, msgs[0].Timestamp.Equal(FromUnixSeconds(1600000001.25)))
	// Missing message timestamps fall back to the session creation time.
	require.True(t, msgs[1].Timestamp.Equal(legacy.CreatedAt))
	require.Equal(t, []string{}, msgs[1].Attachments())
}

func TestDecodeDocument_KeyIsAuthoritative(t *testing.T) {
	data := []byte(`{"s_key": {"id": "s_other", "title": "x"}}`)
	sessions, err := DecodeDocument(data, time.Now())
	require.NoError(t, err)
	require.Equal(t, "s_key", sessions[0].ID)
}

func TestRecord_SingleRoundTrip(t *testing.T) {
	orig := sampleSessions()[2]
	data, err := EncodeRecord(orig)
	require.NoError(t, err)

	got, err := DecodeRecord(data, "unused", time.Now())
	require.NoError(t, err)
	requireEquivalent(t, []*model.Session{orig}, []*model.Session{got})
}

func TestUnixSeconds_RoundTrip(t *testing.T) {
	for i := 0; i < 1000; i++ {
		ts := model.Now().Add(time.Duration(i) * 1234567 * time.Nanosecond).Truncate(time.Microsecond)
		back := FromUnixSeconds(UnixSeconds(ts))
		if !back.Equal(ts) {
			t.Fatalf("round trip mismatch: %v -> %v", ts, back)
		}
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", "x")
	require.ErrorIs(t, err, ErrUnknownBackend)
}

// =============================================================================
// SQLITE TESTS
// =============================================================================

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")

	p, err := OpenSQLite(path)
	require.NoError(t, err)

	sessions := sampleSessions()
	require.NoError(t, p.Save(ctx, sessions))

	// Saving again replaces rather than appends.
	require.NoError(t, p.Save(ctx, sessions))
	require.NoError(t, p.Close())

	p2, err := Open("sqlite", path)
	require.NoError(t, err)
	defer p2.Close()

	got, err := p2.Load(ctx)
	require.NoError(t, err)
	requireEquivalent(t, sessions, got)
}

func TestSQLite_EmptyDatabase(t *testing.T) {
	p, err := OpenSQLite(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer p.Close()

	got, err := p.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSQLite_CorruptFileMovedAside(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	garbage := []byte(strings.Repeat("this is not a sqlite database\n", 64))
	require.NoError(t, os.WriteFile(path, garbage, 0600))

	p, err := Open("sqlite", path)
	require.NoError(t, err)
	defer p.Close()

	// The first load reports the recovery and yields nothing.
	got, err := p.Load(ctx)
	require.Empty(t, got)
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "load", perr.Op)
	require.ErrorIs(t, err, ErrCorruptDatabase)

	moved, err := filepath.Glob(filepath.Join(dir, "sessions.db.corrupt-*"))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	data, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	require.Equal(t, garbage, data)

	// The replacement database is usable.
	got, err = p.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, got)

	sessions := sampleSessions()
	require.NoError(t, p.Save(ctx, sessions))
	got, err = p.Load(ctx)
	require.NoError(t, err)
	requireEquivalent(t, sessions, got)
}
