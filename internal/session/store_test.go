// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/storage"
)

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestNewStore_HasCurrentSession(t *testing.T) {
	s := NewStore()
	require.Equal(t, 1, s.Len())
	require.NotNil(t, s.Current())
	require.Equal(t, s.CurrentID(), s.Current().ID)
}

func TestStore_CreateUniqueIDs(t *testing.T) {
	s := NewStore()
	seen := map[string]bool{s.CurrentID(): true}
	for i := 0; i < 1000; i++ {
		id := s.Create()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	require.Equal(t, 1001, s.Len())
}

func TestStore_CreateKeepsCurrent(t *testing.T) {
	s := NewStore()
	current := s.CurrentID()
	id := s.Create()
	require.NotEqual(t, current, id)
	require.Equal(t, current, s.CurrentID())

	sess, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, model.DefaultTitle, sess.Title)
	require.Equal(t, model.DefaultParams(), sess.Params)
}

func TestStore_CreateUsesDefaults(t *testing.T) {
	cfg := model.DefaultSessionConfig()
	cfg.Model = "qwen2.5:7b-q4"
	s := NewStore(WithDefaults(cfg))
	require.Equal(t, "qwen2.5:7b-q4", s.Current().Model)
}

func TestStore_IDGeneratorCollision(t *testing.T) {
	n := 0
	gen := func() string {
		n++
		// Returns "dup" twice before moving on.
		if n <= 3 {
			return "dup"
		}
		return fmt.Sprintf("id%d", n)
	}
	s := NewStore(WithIDGenerator(gen))
	require.Equal(t, "dup", s.CurrentID())
	id := s.Create()
	require.Equal(t, "id4", id)
}

// =============================================================================
// DUPLICATE TESTS
// =============================================================================

func TestStore_Duplicate(t *testing.T) {
	s := NewStore()
	src := s.Current()
	src.Update(func(v *model.Session) {
		v.Title = "Plans"
		v.Pinned = true
		v.Tags = []string{"work"}
		v.Stop = []string{"###"}
		v.Params.Temperature = 0.3
	})
	src.AppendMessage(model.NewMessage(model.RoleUser, "hi", []string{"a.png"}))
	src.AppendMessage(model.NewMessage(model.RoleAssistant, "hello", nil))

	id, err := s.Duplicate(src.ID)
	require.NoError(t, err)
	dup, err := s.Get(id)
	require.NoError(t, err)

	require.Equal(t, "Plans"+CopySuffix, dup.Title)
	require.True(t, dup.Pinned)
	require.Equal(t, src.Tags, dup.Tags)
	require.Equal(t, src.Stop, dup.Stop)
	require.Equal(t, src.Params, dup.Params)
	require.Equal(t, src.SystemPrompt, dup.SystemPrompt)

	sm, dm := src.Messages(), dup.Messages()
	require.Len(t, dm, len(sm))
	for i := range sm {
		require.Equal(t, sm[i].Role, dm[i].Role)
		require.Equal(t, sm[i].Content(), dm[i].Content())
		require.True(t, sm[i].Timestamp.Equal(dm[i].Timestamp))
		require.Equal(t, sm[i].Attachments(), dm[i].Attachments())
		require.NotSame(t, sm[i], dm[i])
	}

	// Mutating the copy leaves the source alone.
	dm[0].AppendContent(" there")
	dm[0].Attachments()[0] = "b.png"
	dup.AppendMessage(model.NewMessage(model.RoleUser, "more", nil))
	dup.Tags[0] = "home"

	require.Equal(t, "hi", src.Messages()[0].Content())
	require.Equal(t, []string{"a.png"}, src.Messages()[0].Attachments())
	require.Equal(t, 2, src.MessageCount())
	require.Equal(t, []string{"work"}, src.Tags)
}

func TestStore_DuplicateNotFound(t *testing.T) {
	s := NewStore()
	_, err := s.Duplicate("missing")
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, 1, s.Len())
}

// =============================================================================
// DELETE TESTS
// =============================================================================

func TestStore_DeleteLastSession(t *testing.T) {
	s := NewStore()
	id := s.CurrentID()

	err := s.Delete(id)
	require.True(t, errors.Is(err, ErrLastSession))
	require.Equal(t, 1, s.Len())
	require.Equal(t, id, s.CurrentID())
	_, err = s.Get(id)
	require.NoError(t, err)
}

func TestStore_DeleteCurrentReassigns(t *testing.T) {
	s := NewStore()
	first := s.CurrentID()
	second := s.Create()
	third := s.Create()

	require.NoError(t, s.SetCurrent(second))
	require.NoError(t, s.Delete(second))

	cur := s.CurrentID()
	require.Contains(t, []string{first, third}, cur)
	require.Equal(t, s.List("")[0], cur)

	_, err := s.Get(second)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_DeleteOther(t *testing.T) {
	s := NewStore()
	current := s.CurrentID()
	other := s.Create()
	require.NoError(t, s.Delete(other))
	require.Equal(t, current, s.CurrentID())
	require.True(t, errors.Is(s.Delete("missing"), ErrNotFound))
}

// =============================================================================
// LIST TESTS
// =============================================================================

func TestStore_ListOrdering(t *testing.T) {
	s := NewStore()
	base := time.Unix(1700000000, 0)

	setup := func(id string, title string, pinned bool, created time.Time, lastMsg *time.Time) {
		sess, err := s.Get(id)
		require.NoError(t, err)
		sess.Update(func(v *model.Session) {
			v.Title = title
			v.Pinned = pinned
			v.CreatedAt = created
		})
		if lastMsg != nil {
			sess.AppendMessage(model.NewMessageAt(model.RoleAssistant, "x", *lastMsg, nil))
		}
	}

	old := s.CurrentID()
	recent := s.Create()
	pinned := s.Create()
	active := s.Create()

	t1 := base.Add(5 * time.Hour)
	setup(old, "old", false, base, nil)
	setup(recent, "recent", false, base.Add(2*time.Hour), nil)
	setup(pinned, "pinned", true, base, nil)
	setup(active, "active", false, base, &t1)

	require.Equal(t, []string{pinned, active, recent, old}, s.List(""))
}

func TestStore_ListFilter(t *testing.T) {
	s := NewStore()
	a := s.CurrentID()
	b := s.Create()
	c := s.Create()

	require.NoError(t, s.Update(a, func(v *model.Session) { v.Title = "Go Concurrency Notes" }))
	require.NoError(t, s.Update(b, func(v *model.Session) {
		v.Title = "Recipes"
		v.Tags = []string{"Cooking", "weekend"}
	}))
	require.NoError(t, s.Update(c, func(v *model.Session) { v.Title = "旅行計畫" }))

	tests := []struct {
		filter string
		want   []string
	}{
		{"concurrency", []string{a}},
		{"  GO  ", []string{a}},
		{"cook", []string{b}},
		{"WEEK", []string{b}},
		{"計畫", []string{c}},
		{"zzz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			require.ElementsMatch(t, tt.want, s.List(tt.filter))
		})
	}
	require.Len(t, s.List(""), 3)
}

// =============================================================================
// MUTATION TESTS
// =============================================================================

func TestStore_UpdateMarksDirty(t *testing.T) {
	s := NewStore()
	p := storage.NewJSONFile(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, s.Save(context.Background(), p))
	require.False(t, s.Dirty())

	require.NoError(t, s.Update(s.CurrentID(), func(v *model.Session) { v.Title = "x" }))
	require.True(t, s.Dirty())
	require.True(t, errors.Is(s.Update("missing", func(*model.Session) {}), ErrNotFound))
	require.True(t, errors.Is(s.AppendMessage("missing", model.NewMessage(model.RoleUser, "x", nil)), ErrNotFound))
}

func TestStore_ImportCollision(t *testing.T) {
	s := NewStore()
	existing := s.CurrentID()

	imp := model.NewSession(existing, model.DefaultSessionConfig())
	id := s.Import(imp)
	require.NotEqual(t, existing, id)
	require.Equal(t, 2, s.Len())

	fresh := model.NewSession("s_imported", model.DefaultSessionConfig())
	require.Equal(t, "s_imported", s.Import(fresh))
}

func TestStore_SetCurrentUnknown(t *testing.T) {
	s := NewStore()
	require.True(t, errors.Is(s.SetCurrent("nope"), ErrNotFound))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := s.Create()
				_ = s.List("untitled")
				_ = s.AppendMessage(id, model.NewMessage(model.RoleUser, "hi", nil))
				_, _ = s.Duplicate(id)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1+8*50*2, s.Len())
}

// =============================================================================
// PERSISTENCE TESTS
// =============================================================================

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := storage.NewJSONFile(filepath.Join(t.TempDir(), "sessions.json"))

	s := NewStore()
	id := s.CurrentID()
	require.NoError(t, s.AppendMessage(id, model.NewMessage(model.RoleUser, "remember me", []string{"/x/y.txt"})))
	other := s.Create()
	require.NoError(t, s.Update(other, func(v *model.Session) { v.Pinned = true }))
	require.NoError(t, s.Save(ctx, p))

	loaded := NewStore()
	require.NoError(t, loaded.Load(ctx, p))
	require.Equal(t, 2, loaded.Len())
	require.False(t, loaded.Dirty())
	// Pinned sessions sort first, so the pinned one becomes current.
	require.Equal(t, other, loaded.CurrentID())

	sess, err := loaded.Get(id)
	require.NoError(t, err)
	require.Equal(t, "remember me", sess.Messages()[0].Content())
	require.Equal(t, []string{"/x/y.txt"}, sess.Messages()[0].Attachments())
	require.Equal(t, "remember me", sess.Title)
}

func TestStore_LoadMissingCreatesSession(t *testing.T) {
	p := storage.NewJSONFile(filepath.Join(t.TempDir(), "none.json"))
	s := NewStore()
	require.NoError(t, s.Load(context.Background(), p))
	require.Equal(t, 1, s.Len())
	require.NotNil(t, s.Current())
	require.True(t, s.Dirty())
}

func TestStore_LoadCorruptFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{{"), 0600))

	s := NewStore()
	err := s.Load(context.Background(), storage.NewJSONFile(path))
	require.Error(t, err)
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr))

	require.Equal(t, 1, s.Len())
	require.NotNil(t, s.Current())
}

func TestStore_LoadCorruptSQLiteFallsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("definitely not a database file\n", 64)), 0600))

	p, err := storage.OpenSQLite(path)
	require.NoError(t, err)
	defer p.Close()

	s := NewStore()
	err = s.Load(ctx, p)
	require.ErrorIs(t, err, storage.ErrCorruptDatabase)
	require.Equal(t, 1, s.Len())
	require.NotNil(t, s.Current())

	// The fresh session reaches the replacement database.
	require.NoError(t, s.Save(ctx, p))
	reloaded := NewStore()
	require.NoError(t, reloaded.Load(ctx, p))
	require.Equal(t, s.CurrentID(), reloaded.CurrentID())
}

func TestStore_SaveFailureKeepsState(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes the rename fail.
	path := filepath.Join(dir, "sessions.json")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "child"), 0755))

	s := NewStore()
	require.NoError(t, s.AppendMessage(s.CurrentID(), model.NewMessage(model.RoleUser, "keep", nil)))
	err := s.Save(context.Background(), storage.NewJSONFile(path))
	require.Error(t, err)
	require.True(t, s.Dirty())
	require.Equal(t, 1, s.Current().MessageCount())
}

// gatedPersister holds its first Save until release is closed and records the
// last message content of every snapshot it writes, in write order.
type gatedPersister struct {
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
	saved []string
}

func newGatedPersister() *gatedPersister {
	return &gatedPersister{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *gatedPersister) Load(ctx context.Context) ([]*model.Session, error) { return nil, nil }

func (p *gatedPersister) Save(ctx context.Context, sessions []*model.Session) error {
	var content string
	for _, sess := range sessions {
		if msgs := sess.Messages(); len(msgs) > 0 {
			content = msgs[len(msgs)-1].Content()
		}
	}

	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		close(p.entered)
		<-p.release
	}

	p.mu.Lock()
	p.saved = append(p.saved, content)
	p.mu.Unlock()
	return nil
}

func (p *gatedPersister) Close() error { return nil }

func TestStore_ConcurrentSavesKeepNewestSnapshot(t *testing.T) {
	ctx := context.Background()
	p := newGatedPersister()

	s := NewStore()
	msg := model.NewMessage(model.RoleAssistant, "partial", nil)
	require.NoError(t, s.AppendMessage(s.CurrentID(), msg))

	// An autosave starts while the reply is still streaming.
	first := make(chan error, 1)
	go func() { first <- s.Save(ctx, p) }()
	<-p.entered

	// The reply completes and the post-generation save runs.
	msg.AppendContent(" and complete")
	s.MarkDirty()
	second := make(chan error, 1)
	go func() { second <- s.Save(ctx, p) }()

	select {
	case err := <-second:
		t.Fatalf("second save finished while the first was still writing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Equal(t, []string{"partial", "partial and complete"}, p.saved)
	require.False(t, s.Dirty())
}
