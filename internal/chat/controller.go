// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/lochat/internal/attach"
	"github.com/jeranaias/lochat/internal/export"
	"github.com/jeranaias/lochat/internal/generate"
	"github.com/jeranaias/lochat/internal/model"
	"github.com/jeranaias/lochat/internal/prompt"
	"github.com/jeranaias/lochat/internal/session"
	"github.com/jeranaias/lochat/internal/storage"
	"github.com/jeranaias/lochat/internal/tokens"
)

// ErrEmptyMessage is returned when sending a message with no text.
var ErrEmptyMessage = errors.New("message is empty")

// =============================================================================
// OPTIONS
// =============================================================================

// Options wires a Controller. Store, Pipeline and Persister are required.
type Options struct {
	Store     *session.Store
	Pipeline  *generate.Pipeline
	Persister storage.Persister

	// Library defaults to the built-in prompt library
	Library *prompt.Library

	PasteDir  string
	ExportDir string

	// ContextWindow defaults to tokens.ContextWindow
	ContextWindow int

	AutoSave session.AutoSaveConfig
	Logger   *slog.Logger
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the single entry point of a front end.
type Controller struct {
	store     *session.Store
	pipeline  *generate.Pipeline
	persister storage.Persister
	library   *prompt.Library
	autosaver *session.AutoSaver
	pending   *attach.Pending

	pasteDir  string
	exportDir string
	window    int
	logger    *slog.Logger

	// background tracks post-generation saves
	background sync.WaitGroup

	mu          sync.Mutex
	lastLatency time.Duration
	lastErr     error
	lastState   generate.State
}

// New creates a controller.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Pipeline == nil || opts.Persister == nil {
		return nil, errors.New("chat: store, pipeline and persister are required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Library == nil {
		lib, err := prompt.DefaultLibrary()
		if err != nil {
			return nil, err
		}
		opts.Library = lib
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = tokens.ContextWindow
	}

	c := &Controller{
		store:     opts.Store,
		pipeline:  opts.Pipeline,
		persister: opts.Persister,
		library:   opts.Library,
		pending:   attach.NewPending(),
		pasteDir:  opts.PasteDir,
		exportDir: opts.ExportDir,
		window:    opts.ContextWindow,
		logger:    opts.Logger,
	}
	c.autosaver = session.NewAutoSaver(opts.AutoSave, c.needsSave, c.Save, opts.Logger)
	return c, nil
}

// Store returns the session store.
func (c *Controller) Store() *session.Store { return c.store }

// Pipeline returns the generation pipeline.
func (c *Controller) Pipeline() *generate.Pipeline { return c.pipeline }

// Library returns the prompt library.
func (c *Controller) Library() *prompt.Library { return c.library }

// Pending returns the attachments waiting for the next message.
func (c *Controller) Pending() *attach.Pending { return c.pending }

// AutoSaver returns the periodic saver.
func (c *Controller) AutoSaver() *session.AutoSaver { return c.autosaver }

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load reads the persisted sessions. A failure is reported but leaves a
// usable store holding one fresh session.
func (c *Controller) Load(ctx context.Context) error {
	return c.store.Load(ctx, c.persister)
}

// Save writes every session now.
func (c *Controller) Save(ctx context.Context) error {
	if err := c.store.Save(ctx, c.persister); err != nil {
		return err
	}
	c.autosaver.MarkSaved()
	return nil
}

func (c *Controller) needsSave() bool {
	return c.store.Dirty() || c.pipeline.Running()
}

// saveAfter saves after a mutation. Failures are logged by the store and
// returned so the front end can tell the user; memory is never rolled back.
func (c *Controller) saveAfter(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return c.Save(ctx)
}

// Run runs the auto-saver until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	c.autosaver.Run(ctx)
}

// Close stops any generation, waits for pending saves, saves once more and
// closes the persister.
func (c *Controller) Close(ctx context.Context) error {
	if g := c.pipeline.Active(); g != nil {
		g.Cancel()
		select {
		case <-g.Done():
		case <-ctx.Done():
		}
	}
	c.background.Wait()
	saveErr := c.Save(ctx)
	return errors.Join(saveErr, c.persister.Close())
}

// Wait blocks until every post-generation save has finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

// =============================================================================
// GENERATION
// =============================================================================

// Send appends a user message carrying the pending attachments to session id
// and starts generating the reply. While a generation is running it fails
// with generate.ErrAlreadyRunning and changes nothing.
func (c *Controller) Send(ctx context.Context, id, text string) (*generate.Generation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if c.pipeline.Running() {
		return nil, generate.ErrAlreadyRunning
	}

	attachments := c.pending.Take()
	msg := model.NewMessage(model.RoleUser, text, attachments)
	if err := c.store.AppendMessage(id, msg); err != nil {
		return nil, err
	}

	g, err := c.pipeline.Start(ctx, sess, prompt.Compose(sess))
	if err != nil {
		// Lost a race with another start: undo the message and keep the
		// attachments for the next try.
		if last := sess.MessageCount() - 1; last >= 0 && sess.LastMessage() == msg {
			sess.TruncateAfter(last - 1)
		}
		if len(attachments) > 0 {
			_ = c.pending.Add(attachments...)
		}
		return nil, err
	}
	c.afterGeneration(g)
	return g, nil
}

// Regenerate drops the replies after the last user message of session id
// and generates again.
func (c *Controller) Regenerate(ctx context.Context, id string) (*generate.Generation, error) {
	sess, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	g, err := c.pipeline.Regenerate(ctx, sess)
	if err != nil {
		return nil, err
	}
	c.store.MarkDirty()
	c.afterGeneration(g)
	return g, nil
}

// Stop cancels the running generation. Reports whether one was running.
func (c *Controller) Stop() bool {
	return c.pipeline.Cancel()
}

// afterGeneration records the outcome and saves once g is terminal.
func (c *Controller) afterGeneration(g *generate.Generation) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		<-g.Done()

		c.mu.Lock()
		c.lastLatency = g.Latency()
		c.lastErr = g.Err()
		c.lastState = g.State()
		c.mu.Unlock()

		c.store.MarkDirty()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.Save(ctx)
	}()
}

// =============================================================================
// SESSIONS
// =============================================================================

// CurrentID returns the id of the selected session.
func (c *Controller) CurrentID() string {
	return c.store.CurrentID()
}

// Select makes id the current session.
func (c *Controller) Select(id string) error {
	return c.store.SetCurrent(id)
}

// List returns session ids, pinned first then most recent, filtered by
// title or tag.
func (c *Controller) List(filter string) []string {
	return c.store.List(filter)
}

// Session returns the session with the given id.
func (c *Controller) Session(id string) (*model.Session, error) {
	return c.store.Get(id)
}

// NewSession creates a session, selects it and saves.
func (c *Controller) NewSession(ctx context.Context) (string, error) {
	id := c.store.Create()
	if err := c.store.SetCurrent(id); err != nil {
		return "", err
	}
	return id, c.Save(ctx)
}

// Duplicate copies session id, selects the copy and saves.
func (c *Controller) Duplicate(ctx context.Context, id string) (string, error) {
	newID, err := c.store.Duplicate(id)
	if err != nil {
		return "", err
	}
	if err := c.store.SetCurrent(newID); err != nil {
		return "", err
	}
	return newID, c.Save(ctx)
}

// Delete removes session id and saves. The generation streaming into it,
// if any, is cancelled first.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if g := c.pipeline.Active(); g != nil && g.SessionID() == id && c.store.Len() > 1 {
		g.Cancel()
	}
	return c.saveAfter(ctx, c.store.Delete(id))
}

// Rename sets the title of session id.
func (c *Controller) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = model.DefaultTitle
	}
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.Title = title }))
}

// SetPinned pins or unpins session id.
func (c *Controller) SetPinned(ctx context.Context, id string, pinned bool) error {
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.Pinned = pinned }))
}

// SetTags replaces the tags of session id. Blank and repeated tags are dropped.
func (c *Controller) SetTags(ctx context.Context, id string, tags []string) error {
	clean := cleanList(tags)
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.Tags = clean }))
}

// SetModel sets the model of session id.
func (c *Controller) SetModel(ctx context.Context, id, modelName string) error {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		return errors.New("model name is empty")
	}
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.Model = modelName }))
}

// SetParams sets the sampling parameters of session id.
func (c *Controller) SetParams(ctx context.Context, id string, p model.Params) error {
	if err := ValidateParams(p); err != nil {
		return err
	}
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.Params = p }))
}

// ApplyPreset sets the parameters of session id from a named preset.
func (c *Controller) ApplyPreset(ctx context.Context, id, name string) (model.Params, error) {
	preset, err := c.library.Preset(name)
	if err != nil {
		return model.Params{}, err
	}
	p := preset.Params()
	return p, c.SetParams(ctx, id, p)
}

// SetStop replaces the stop sequences of session id.
func (c *Controller) SetStop(ctx context.Context, id string, stop []string) error {
	clean := make([]string, 0, len(stop))
	for _, s := range stop {
		if s != "" {
			clean = append(clean, s)
		}
	}
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.Stop = clean }))
}

// SetSystemPrompt sets the system prompt of session id.
func (c *Controller) SetSystemPrompt(ctx context.Context, id, system string) error {
	return c.saveAfter(ctx, c.store.Update(id, func(s *model.Session) { s.SystemPrompt = system }))
}

// ApplyTechnique renders a prompt technique and makes it the system prompt
// of session id. Returns the rendered text.
func (c *Controller) ApplyTechnique(ctx context.Context, id, name string, vars map[string]string) (string, error) {
	text, err := c.library.Render(name, vars)
	if err != nil {
		return "", err
	}
	return text, c.SetSystemPrompt(ctx, id, text)
}

// ValidateParams checks sampling parameters for sane ranges.
func ValidateParams(p model.Params) error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return fmt.Errorf("temperature must be within 0..2, got %g", p.Temperature)
	case p.TopP <= 0 || p.TopP > 1:
		return fmt.Errorf("top_p must be within (0, 1], got %g", p.TopP)
	case p.MaxNewTokens <= 0:
		return fmt.Errorf("max_new_tokens must be positive, got %d", p.MaxNewTokens)
	}
	return nil
}

func cleanList(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// =============================================================================
// STATS
// =============================================================================

// Stats summarises a session for display.
type Stats struct {
	Usage        tokens.Usage
	Messages     int
	Backend      string
	Running      bool
	LastState    generate.State
	LastLatency  time.Duration
	LastError    error
	SaveError    error
	PendingFiles int
}

// Stats returns the context usage of session id and the outcome of the
// most recent generation.
func (c *Controller) Stats(id string) (Stats, error) {
	sess, err := c.store.Get(id)
	if err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	st := Stats{
		LastState:   c.lastState,
		LastLatency: c.lastLatency,
		LastError:   c.lastErr,
	}
	c.mu.Unlock()

	st.Usage = tokens.EstimateSession(sess, c.window)
	st.Messages = sess.MessageCount()
	st.Backend = c.pipeline.Backend().Name()
	st.Running = c.pipeline.Running()
	st.SaveError = c.autosaver.LastError()
	st.PendingFiles = c.pending.Len()
	return st, nil
}

// Ping checks that the backend is reachable, when it can tell.
func (c *Controller) Ping(ctx context.Context) error {
	if p, ok := c.pipeline.Backend().(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Attach adds files to the next message.
func (c *Controller) Attach(paths ...string) error {
	return c.pending.Add(paths...)
}

// Paste stores pasted data in the paste directory and attaches it.
func (c *Controller) Paste(data []byte, ext string) (string, error) {
	if c.pasteDir == "" {
		return "", errors.New("no paste directory configured")
	}
	path, err := attach.SavePasted(c.pasteDir, data, ext, time.Now())
	if err != nil {
		return "", err
	}
	return path, c.pending.Add(path)
}

// WatchPasteDir attaches files that appear in the paste directory until
// ctx is done.
func (c *Controller) WatchPasteDir(ctx context.Context) error {
	if c.pasteDir == "" {
		return errors.New("no paste directory configured")
	}
	w, err := attach.NewWatcher(c.pasteDir, attach.DefaultDebounce, func(path string) {
		if err := c.pending.Add(path); err != nil {
			c.logger.Warn("ATTACH_FAILED", "path", path, "error", err)
		}
	}, c.logger)
	if err != nil {
		return err
	}
	go func() {
		defer w.Close()
		w.Run(ctx)
	}()
	return nil
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// Export writes session id in format f to the export directory.
func (c *Controller) Export(id string, f export.Format) (string, error) {
	sess, err := c.store.Get(id)
	if err != nil {
		return "", err
	}
	exporter, err := export.ForFormat(f)
	if err != nil {
		return "", err
	}
	path, err := export.ExportToFile(sess, exporter, &export.Options{OutputDir: c.exportDir})
	if err != nil {
		c.logger.Error("EXPORT_FAILED", "session_id", id, "format", string(f), "error", err)
		return "", err
	}
	c.logger.Info("EXPORT_COMPLETE", "session_id", id, "format", string(f), "path", path)
	return path, nil
}

// ExportBatch writes a zip of the given sessions to the export directory.
func (c *Controller) ExportBatch(ids []string) (string, error) {
	sessions := make([]*model.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := c.store.Get(id)
		if err != nil {
			return "", err
		}
		sessions = append(sessions, sess)
	}
	path, err := export.BatchToFile(sessions, &export.Options{OutputDir: c.exportDir})
	if err != nil {
		c.logger.Error("EXPORT_FAILED", "format", "zip", "count", len(ids), "error", err)
		return "", err
	}
	c.logger.Info("EXPORT_COMPLETE", "format", "zip", "count", len(ids), "path", path)
	return path, nil
}

// Import adds the sessions of a JSON export or zip archive and saves.
// Returns the ids they were stored under.
func (c *Controller) Import(ctx context.Context, path string) ([]string, error) {
	var sessions []*model.Session
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		sessions, err = export.ReadBatch(data)
		if err != nil {
			return nil, err
		}
	} else {
		sess, err := export.ImportFile(path)
		if err != nil {
			return nil, err
		}
		sessions = []*model.Session{sess}
	}

	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, c.store.Import(sess))
	}
	c.logger.Info("IMPORT_COMPLETE", "path", path, "count", len(ids))
	return ids, c.Save(ctx)
}
