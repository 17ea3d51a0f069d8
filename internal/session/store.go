// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/storage"
)

// CopySuffix is appended to the title of a duplicated session.
const CopySuffix = " (copy)"

// =============================================================================
// SESSION STORE
// =============================================================================

// Store holds every session in memory.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	currentID string

	// version counts mutations; savedVersion is the version last persisted.
	version      uint64
	savedVersion uint64

	// saveMu serializes Save so snapshots reach the persister in order.
	saveMu sync.Mutex

	defaults model.SessionConfig
	newID    func() string
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaults sets the field values of newly created sessions.
func WithDefaults(cfg model.SessionConfig) Option {
	return func(s *Store) {
		s.defaults = cfg
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore creates a store holding one fresh session, which is current.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*model.Session),
		defaults: model.DefaultSessionConfig(),
		newID:    NewID,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.currentID = s.createLocked()
	return s
}

// NewID returns a fresh, time-ordered session id.
func NewID() string {
	return "s_" + uuid.Must(uuid.NewV7()).String()
}

// =============================================================================
// CREATE / DUPLICATE / DELETE
// =============================================================================

// Create adds a session with default values and returns its id.
// The current session is unchanged.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() string {
	id := s.uniqueIDLocked()
	s.sessions[id] = model.NewSession(id, s.defaults)
	s.version++
	s.logger.Debug("SESSION_CREATED", "session_id", id)
	return id
}

func (s *Store) uniqueIDLocked() string {
	for {
		id := s.newID()
		if _, exists := s.sessions[id]; !exists {
			return id
		}
	}
}

// Duplicate deep-copies a session under a new id and returns that id.
// The copy's title gets CopySuffix and its creation time is now.
func (s *Store) Duplicate(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sessions[id]
	if !ok {
		return "", notFound(id)
	}

	newID := s.uniqueIDLocked()
	dup := src.Clone(newID)
	dup.Title += CopySuffix
	dup.CreatedAt = model.Now()
	s.sessions[newID] = dup
	s.version++
	s.logger.Debug("SESSION_DUPLICATED", "source_id", id, "session_id", newID)
	return newID, nil
}

// Delete removes a session. Deleting the only session fails with
// ErrLastSession. If the current session is deleted, the first session in
// list order becomes current.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return notFound(id)
	}
	if len(s.sessions) == 1 {
		return lastSession(id)
	}

	delete(s.sessions, id)
	s.version++
	if s.currentID == id {
		s.currentID = s.listLocked("")[0]
	}
	s.logger.Debug("SESSION_DELETED", "session_id", id, "current_id", s.currentID)
	return nil
}

// Import adds an externally built session. If its id is empty or already
// taken, it gets a fresh one. Returns the id actually used.
func (s *Store) Import(sess *model.Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.sessions[sess.ID]; taken || sess.ID == "" {
		sess.ID = s.uniqueIDLocked()
	}
	s.sessions[sess.ID] = sess
	s.version++
	s.logger.Debug("SESSION_IMPORTED", "session_id", sess.ID)
	return sess.ID
}

// =============================================================================
// LOOKUP AND LISTING
// =============================================================================

// Get returns the session with the given id.
func (s *Store) Get(id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return sess, nil
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns session ids ordered pinned first, then by most recent
// activity, then by id. A non-empty filter keeps sessions whose title or
// any tag contains it, ignoring case and surrounding whitespace.
func (s *Store) List(filter string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(filter)
}

func (s *Store) listLocked(filter string) []string {
	needle := normalize(strings.TrimSpace(filter))

	type entry struct {
		id       string
		pinned   bool
		activity int64
	}
	entries := make([]entry, 0, len(s.sessions))
	for id, sess := range s.sessions {
		var title string
		var pinned bool
		var tags []string
		sess.View(func(v *model.Session) {
			title, pinned = v.Title, v.Pinned
			tags = append(tags, v.Tags...)
		})
		if needle != "" && !matches(needle, title, tags) {
			continue
		}
		entries = append(entries, entry{id: id, pinned: pinned, activity: sess.LastActivity().UnixMicro()})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.pinned != b.pinned {
			return a.pinned
		}
		if a.activity != b.activity {
			return a.activity > b.activity
		}
		return a.id < b.id
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

func matches(needle, title string, tags []string) bool {
	if strings.Contains(normalize(title), needle) {
		return true
	}
	for _, tag := range tags {
		if strings.Contains(normalize(tag), needle) {
			return true
		}
	}
	return false
}

// normalize case-folds text after NFC composition.
// A Caser is stateful, so each call gets its own.
func normalize(text string) string {
	return cases.Fold().String(norm.NFC.String(text))
}

// Sessions returns every session in list order.
func (s *Store) Sessions() []*model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.listLocked("")
	out := make([]*model.Session, len(ids))
	for i, id := range ids {
		out[i] = s.sessions[id]
	}
	return out
}

// =============================================================================
// CURRENT SESSION
// =============================================================================

// CurrentID returns the id of the current session.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Current returns the current session.
func (s *Store) Current() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[s.currentID]
}

// SetCurrent selects the current session.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return notFound(id)
	}
	s.currentID = id
	return nil
}

// =============================================================================
// MUTATION
// =============================================================================

// Update runs fn on a session with its lock held and marks the store dirty.
func (s *Store) Update(id string, fn func(*model.Session)) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Update(fn)
	s.MarkDirty()
	return nil
}

// AppendMessage appends a message to a session and marks the store dirty.
func (s *Store) AppendMessage(id string, msg *model.Message) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.AppendMessage(msg)
	s.MarkDirty()
	return nil
}

// MarkDirty records an unsaved change made directly on a session.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
}

// Dirty reports whether there are changes since the last save.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version != s.savedVersion
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load replaces the store contents with the persisted sessions.
//
// A load failure is logged and the store falls back to empty; in both that
// case and a genuinely empty result, one fresh session is created. The
// returned error is informational: the store is usable either way.
func (s *Store) Load(ctx context.Context, p storage.Persister) error {
	sessions, err := p.Load(ctx)
	if err != nil {
		s.logger.Warn("SESSION_LOAD_FAILED", "error", err)
		sessions = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*model.Session, len(sessions))
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}

	if len(s.sessions) == 0 {
		s.createLocked()
	} else {
		s.savedVersion = s.version
	}
	s.currentID = s.listLocked("")[0]

	s.logger.Info("SESSIONS_LOADED", "count", len(s.sessions), "current_id", s.currentID)
	return err
}

// Save snapshots every session and writes them through p.
// Content still streaming into a message is saved as far as it has got.
// On failure the in-memory state is untouched and the store stays dirty.
// Concurrent calls run one at a time; a later call always writes a snapshot
// at least as new as an earlier one.
func (s *Store) Save(ctx context.Context, p storage.Persister) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	version := s.version
	sessions := make([]*model.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	if err := p.Save(ctx, sessions); err != nil {
		s.logger.Error("SESSION_SAVE_FAILED", "error", err)
		return err
	}

	s.mu.Lock()
	if s.savedVersion < version {
		s.savedVersion = version
	}
	s.mu.Unlock()

	s.logger.Debug("SESSIONS_SAVED", "count", len(sessions))
	return nil
}
