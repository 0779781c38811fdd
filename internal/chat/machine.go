// Package chat holds the conversation state machine that turns a chat with the
// generation backend into an outline, a slide document and finally an exported file.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chatppt/chatppt/internal/export"
	"github.com/chatppt/chatppt/internal/extract"
	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/slides"
	"github.com/chatppt/chatppt/internal/transport"
)

const (
	// StoppedMarker is appended to a response cut short by StopGeneration
	StoppedMarker = "\n[stopped]"
	// ContentPhaseMessage replaces the conversation once an outline is confirmed
	ContentPhaseMessage = "Outline confirmed. Ask me to write or change the content of any slide."

	errorEntryPrefix = "[System Error]: "
)

// Exporter is the export task coordinator as seen by the machine
type Exporter interface {
	Start(ctx context.Context, doc slides.Document) (*export.Task, error)
	Retry(ctx context.Context) (*export.Task, error)
	Reset()
	Snapshot() *export.Task
	DownloadTo(ctx context.Context, dir string) (string, error)
	SetOnChange(fn func(export.Task))
}

var _ Exporter = (*export.Coordinator)(nil)

// Config holds the collaborators of a Machine
type Config struct {
	Generator   transport.Generator
	Exporter    Exporter
	Sessions    sessions.SessionManager
	Rag         transport.RagAPI
	DownloadDir string
	Logger      *zap.Logger
}

// State is a snapshot of the machine handed to renderers
type State struct {
	SessionID           string             `json:"session_id"`
	Title               string             `json:"title"`
	Phase               sessions.Phase     `json:"phase"`
	Messages            []sessions.Message `json:"messages"`
	Slides              slides.Document    `json:"slides"`
	Loading             bool               `json:"loading"`
	Error               string             `json:"error,omitempty"`
	IsRefusal           bool               `json:"is_refusal"`
	OutlineReady        bool               `json:"outline_ready"`
	Export              *export.Task       `json:"export,omitempty"`
	AttachmentsSelected []string           `json:"attachments_selected"`
}

// Machine owns the active session and serializes every change to it
type Machine struct {
	generator   transport.Generator
	exporter    Exporter
	sessions    sessions.SessionManager
	rag         transport.RagAPI
	downloadDir string
	logger      *zap.Logger

	mu           sync.Mutex
	session      *sessions.Session
	loading      bool
	errMsg       string
	isRefusal    bool
	outlineReady bool
	selected     []string

	// generation is the token of the current request; callbacks carrying another token are dropped
	generation uint64
	cancel     context.CancelFunc
	workers    sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewMachine creates a machine positioned on a fresh, unsaved session
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Exporter == nil {
		return nil, fmt.Errorf("exporter is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}

	m := &Machine{
		generator:   cfg.Generator,
		exporter:    cfg.Exporter,
		sessions:    cfg.Sessions,
		rag:         cfg.Rag,
		downloadDir: cfg.DownloadDir,
		logger:      cfg.Logger,
		session:     cfg.Sessions.NewSession(),
		subs:        make(map[int]func(State)),
	}
	m.exporter.SetOnChange(m.onExportChange)
	return m, nil
}

// State returns a deep copy of the current state
func (m *Machine) State() State {
	m.mu.Lock()
	st := m.stateLocked()
	m.mu.Unlock()

	st.Export = m.exporter.Snapshot()
	return st
}

func (m *Machine) stateLocked() State {
	s := m.session.Clone()
	selected := append([]string{}, m.selected...)
	return State{
		SessionID:           s.ID,
		Title:               s.Title,
		Phase:               s.Phase,
		Messages:            s.Messages,
		Slides:              s.Slides,
		Loading:             m.loading,
		Error:               m.errMsg,
		IsRefusal:           m.isRefusal,
		OutlineReady:        m.outlineReady,
		AttachmentsSelected: selected,
	}
}

// Subscribe registers fn to receive a snapshot after every committed change.
// fn is called without the machine lock held. The returned func unsubscribes.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Machine) publish() {
	m.subMu.Lock()
	if len(m.subs) == 0 {
		m.subMu.Unlock()
		return
	}
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	st := m.State()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *Machine) onExportChange(task export.Task) {
	m.logger.Debug("Export task changed",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)))
	m.publish()
}

// persistLocked writes the working copy back to the session store
func (m *Machine) persistLocked() {
	if err := m.sessions.Save(context.Background(), m.session); err != nil {
		m.logger.Error("Failed to persist session",
			zap.String("session_id", m.session.ID),
			zap.Error(err))
	}
}

// cancelGenerationLocked aborts the in-flight request and invalidates its callbacks
func (m *Machine) cancelGenerationLocked() bool {
	m.generation++
	if m.cancel == nil {
		return false
	}
	m.cancel()
	m.cancel = nil
	m.loading = false
	return true
}

func (m *Machine) clearFlagsLocked() {
	m.loading = false
	m.errMsg = ""
	m.isRefusal = false
	m.outlineReady = false
	m.selected = nil
}

// lastAssistantLocked returns the index of the most recent assistant message, or -1
func (m *Machine) lastAssistantLocked() int {
	for i := len(m.session.Messages) - 1; i >= 0; i-- {
		if m.session.Messages[i].Role == sessions.RoleAssistant {
			return i
		}
	}
	return -1
}

// SendMessage starts a new assistant turn. Blank text is ignored. Any response still
// being generated is cancelled first. The request runs in the background; use Wait or
// Subscribe to observe its outcome.
func (m *Machine) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if m.session.Phase == sessions.PhaseExporting {
		phase := m.session.Phase
		m.mu.Unlock()
		return NewPhaseError("send_message", phase, "reset the export before continuing the conversation")
	}

	if m.cancelGenerationLocked() {
		m.logger.Debug("Cancelled previous generation", zap.String("session_id", m.session.ID))
	}

	history := historyOf(m.session.Messages)
	m.session.Messages = append(m.session.Messages,
		sessions.Message{Role: sessions.RoleUser, Content: text},
		sessions.Message{Role: sessions.RoleAssistant, Content: ""},
	)
	m.loading = true
	m.errMsg = ""
	m.isRefusal = false
	m.outlineReady = false

	kind := transport.KindContent
	if m.session.Phase == sessions.PhaseOutline && m.session.Slides.IsEmpty() {
		kind = transport.KindOutline
	}

	req := &transport.GenerateRequest{
		SessionID:   m.session.ID,
		UserMessage: text,
		History:     history,
	}
	if kind == transport.KindContent {
		req.CurrentSlides = m.session.Slides.Clone()
	} else if len(m.selected) > 0 {
		req.RagFileIDs = append([]string{}, m.selected...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	token := m.generation
	m.cancel = cancel
	m.workers.Add(1)
	sessionID := m.session.ID
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Generation started",
		zap.String("session_id", sessionID),
		zap.String("kind", string(kind)),
		zap.Int("history", len(history)))
	m.publish()

	go m.generate(ctx, token, kind, req)
	return nil
}

// historyOf converts the conversation before the new turn into backend messages
func historyOf(messages []sessions.Message) []transport.Message {
	history := make([]transport.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == sessions.RoleSystem {
			continue
		}
		history = append(history, transport.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return history
}

func (m *Machine) generate(ctx context.Context, token uint64, kind transport.Kind, req *transport.GenerateRequest) {
	defer m.workers.Done()

	err := m.generator.Generate(ctx, kind, req, func(chunk string) {
		m.appendChunk(token, chunk)
	})
	m.complete(token, err)
}

func (m *Machine) appendChunk(token uint64, chunk string) {
	if chunk == "" {
		return
	}

	m.mu.Lock()
	if token != m.generation {
		m.mu.Unlock()
		return
	}
	if i := m.lastAssistantLocked(); i >= 0 {
		m.session.Messages[i].Content += chunk
	}
	m.mu.Unlock()

	m.publish()
}

// complete commits the outcome of a generation unless it was superseded
func (m *Machine) complete(token uint64, err error) {
	m.mu.Lock()
	if token != m.generation {
		m.mu.Unlock()
		return
	}
	m.cancel = nil
	m.loading = false

	logger := m.logger.With(zap.String("session_id", m.session.ID))

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		// silent by contract
	case err != nil:
		msg := userMessage(err)
		m.errMsg = msg
		m.session.Messages = append(m.session.Messages, sessions.Message{
			Role:    sessions.RoleSystem,
			Content: errorEntryPrefix + msg,
		})
		logger.Warn("Generation failed", zap.Error(err))
	default:
		m.applyResponseLocked(logger)
	}

	m.persistLocked()
	m.mu.Unlock()

	m.publish()
}

// applyResponseLocked runs extraction on the finished assistant message
func (m *Machine) applyResponseLocked(logger *zap.Logger) {
	i := m.lastAssistantLocked()
	if i < 0 {
		return
	}

	payload, err := extract.Extract(m.session.Messages[i].Content)
	if err != nil {
		logger.Debug("Response carries no structured payload")
		return
	}

	switch payload.Kind {
	case extract.KindRefusal:
		m.isRefusal = true
		logger.Info("Backend declined the request", zap.String("reason", payload.Reason))
	case extract.KindSlides:
		m.session.Slides = payload.Slides
		if m.session.Phase == sessions.PhaseOutline {
			m.session.Phase = sessions.PhaseContent
		}
		logger.Info("Slide document replaced", zap.Int("slides", len(payload.Slides)))
	case extract.KindOutline:
		if m.session.Phase == sessions.PhaseOutline {
			m.outlineReady = true
			logger.Info("Outline ready for confirmation", zap.Int("entries", len(payload.Outline.Entries)))
		}
	case extract.KindBrokenSlides:
		if m.session.Phase == sessions.PhaseContent {
			perr := NewSlidesParseError(extract.ErrNotSlides)
			m.errMsg = perr.Message
			logger.Warn("Slide array could not be decoded", zap.Error(perr))
		}
	}
}

// Wait blocks until every generation started so far has returned, including
// cancelled ones whose results are discarded
func (m *Machine) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopGeneration aborts the in-flight request. Text received so far is kept and
// marked as stopped. It is a no-op when nothing is being generated.
func (m *Machine) StopGeneration() {
	m.mu.Lock()
	if !m.loading || !m.cancelGenerationLocked() {
		m.mu.Unlock()
		return
	}
	if i := m.lastAssistantLocked(); i >= 0 {
		m.session.Messages[i].Content += StoppedMarker
	}
	sessionID := m.session.ID
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Generation stopped", zap.String("session_id", sessionID))
	m.publish()
}

// ConfirmOutline turns the outline in the latest assistant message into the initial
// slide document and moves the session to the content phase
func (m *Machine) ConfirmOutline() error {
	m.mu.Lock()
	if m.session.Phase != sessions.PhaseOutline {
		phase := m.session.Phase
		m.mu.Unlock()
		return NewPhaseError("confirm_outline", phase, "the outline has already been confirmed")
	}
	if m.loading {
		m.mu.Unlock()
		return ErrGenerationInProgress
	}

	text := ""
	if i := m.lastAssistantLocked(); i >= 0 {
		text = m.session.Messages[i].Content
	}
	outline, err := extract.Outline(text)
	if err != nil {
		perr := NewOutlineParseError(err)
		m.errMsg = perr.Message
		m.outlineReady = false
		m.mu.Unlock()
		m.publish()
		return perr
	}

	m.session.Slides = outline.Document()
	m.session.Messages = []sessions.Message{{Role: sessions.RoleSystem, Content: ContentPhaseMessage}}
	m.session.Phase = sessions.PhaseContent
	m.errMsg = ""
	m.outlineReady = false
	m.isRefusal = false
	sessionID := m.session.ID
	count := len(m.session.Slides)
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Outline confirmed", zap.String("session_id", sessionID), zap.Int("slides", count))
	m.publish()
	return nil
}

// UpdateSlide changes one field of one slide, or one element of an array field when
// subIndex is set. Invalid coordinates return a *slides.EditError and change nothing.
func (m *Machine) UpdateSlide(index int, field, value string, subIndex *int) error {
	m.mu.Lock()
	if m.session.Phase == sessions.PhaseExporting {
		phase := m.session.Phase
		m.mu.Unlock()
		return NewPhaseError("update_slide", phase, "slides cannot change while an export is running")
	}

	doc, err := m.session.Slides.UpdateField(index, field, value, subIndex)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.session.Slides = doc
	m.persistLocked()
	m.mu.Unlock()

	m.publish()
	return nil
}

// StartExport submits the slide document for export. An empty document fails with
// export.ErrEmptyDocument before any request is made.
func (m *Machine) StartExport(ctx context.Context) (*export.Task, error) {
	m.mu.Lock()
	if m.session.Slides.IsEmpty() {
		m.mu.Unlock()
		return nil, export.ErrEmptyDocument
	}
	if m.session.Phase != sessions.PhaseContent {
		phase := m.session.Phase
		m.mu.Unlock()
		return nil, NewPhaseError("start_export", phase, "export is available once the slides are written")
	}
	if m.loading {
		m.mu.Unlock()
		return nil, ErrGenerationInProgress
	}

	m.session.Phase = sessions.PhaseExporting
	m.errMsg = ""
	doc := m.session.Slides.Clone()
	sessionID := m.session.ID
	m.persistLocked()
	m.mu.Unlock()
	m.publish()

	task, err := m.exporter.Start(ctx, doc)
	if err != nil {
		m.mu.Lock()
		reverted := m.session.ID == sessionID && m.session.Phase == sessions.PhaseExporting
		if reverted {
			m.session.Phase = sessions.PhaseContent
			m.errMsg = fmt.Sprintf("Export failed: %v", err)
			m.persistLocked()
		}
		m.mu.Unlock()
		if reverted {
			// the failed task belongs to a phase we just left
			m.exporter.Reset()
		}
		m.publish()
		return nil, err
	}

	m.mu.Lock()
	current := m.session.ID == sessionID && m.session.Phase == sessions.PhaseExporting
	m.mu.Unlock()
	if !current {
		m.exporter.Reset()
		m.logger.Info("Export dropped after a session switch", zap.String("session_id", sessionID), zap.String("task_id", task.ID))
		m.publish()
		return nil, context.Canceled
	}

	m.logger.Info("Export started", zap.String("session_id", sessionID), zap.String("task_id", task.ID))
	return task, nil
}

// RetryExport resubmits the document after a failed export
func (m *Machine) RetryExport(ctx context.Context) (*export.Task, error) {
	m.mu.Lock()
	phase := m.session.Phase
	m.mu.Unlock()
	if phase != sessions.PhaseExporting {
		return nil, NewPhaseError("retry_export", phase, "there is no export to retry")
	}
	return m.exporter.Retry(ctx)
}

// DownloadExport saves the finished export into the download directory and returns its path
func (m *Machine) DownloadExport(ctx context.Context) (string, error) {
	return m.exporter.DownloadTo(ctx, m.downloadDir)
}

// CancelExport drops the export task and returns to editing the slides
func (m *Machine) CancelExport() error {
	m.mu.Lock()
	if m.session.Phase != sessions.PhaseExporting {
		phase := m.session.Phase
		m.mu.Unlock()
		return NewPhaseError("cancel_export", phase, "no export is running")
	}
	m.session.Phase = sessions.PhaseContent
	m.persistLocked()
	m.mu.Unlock()

	m.exporter.Reset()
	m.publish()
	return nil
}

// Reset returns the active session to its initial state, keeping its id
func (m *Machine) Reset() {
	m.mu.Lock()
	m.cancelGenerationLocked()
	m.clearFlagsLocked()
	m.session = sessions.New(m.session.ID, m.session.CreatedAt)
	m.persistLocked()
	m.mu.Unlock()

	m.exporter.Reset()
	m.publish()
}

// CreateNewSession switches to a fresh session. The one being left keeps its stored state.
func (m *Machine) CreateNewSession() State {
	fresh := m.sessions.NewSession()

	m.mu.Lock()
	m.cancelGenerationLocked()
	m.clearFlagsLocked()
	m.session = fresh
	m.mu.Unlock()

	m.exporter.Reset()
	m.logger.Info("New session", zap.String("session_id", fresh.ID))
	m.publish()
	return m.State()
}

// LoadSession switches to a stored session. Work belonging to the session being left
// is cancelled before the swap.
func (m *Machine) LoadSession(ctx context.Context, sessionID string) error {
	loaded, err := m.sessions.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if loaded.Phase == sessions.PhaseExporting || loaded.Phase == "" {
		// export tasks do not survive a session switch
		loaded.Phase = sessions.PhaseContent
		if loaded.Slides.IsEmpty() {
			loaded.Phase = sessions.PhaseOutline
		}
	}
	if loaded.Slides == nil {
		loaded.Slides = slides.Document{}
	}

	m.mu.Lock()
	m.cancelGenerationLocked()
	m.clearFlagsLocked()
	m.session = loaded
	m.mu.Unlock()

	m.exporter.Reset()
	m.logger.Info("Session loaded", zap.String("session_id", sessionID), zap.String("phase", string(loaded.Phase)))
	m.publish()
	return nil
}

// ResumeLatest loads the most recently updated session, if there is one
func (m *Machine) ResumeLatest(ctx context.Context) error {
	entries, err := m.sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	return m.LoadSession(ctx, entries[0].ID)
}

// DeleteSession removes a stored session. Deleting the active session switches to a new
// one first, so no in-flight reply can write the deleted session back.
func (m *Machine) DeleteSession(ctx context.Context, sessionID string) error {
	fresh := m.sessions.NewSession()

	m.mu.Lock()
	active := m.session.ID == sessionID
	if active {
		m.cancelGenerationLocked()
		m.clearFlagsLocked()
		m.session = fresh
	}
	m.mu.Unlock()

	if active {
		m.exporter.Reset()
		m.logger.Info("Active session deleted", zap.String("session_id", sessionID), zap.String("new_session_id", fresh.ID))
		m.publish()
	}

	err := m.sessions.Delete(ctx, sessionID)
	if err != nil && !(active && errors.Is(err, sessions.ErrSessionNotFound)) {
		return err
	}
	return nil
}

// RenameSession sets the title of a session
func (m *Machine) RenameSession(ctx context.Context, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}

	m.mu.Lock()
	if m.session.ID == sessionID {
		m.session.Title = title
		m.persistLocked()
		m.mu.Unlock()
		m.publish()
		return nil
	}
	m.mu.Unlock()

	_, err := m.sessions.Rename(ctx, sessionID, title)
	return err
}

// ListSessions returns the history index, newest first
func (m *Machine) ListSessions(ctx context.Context) ([]sessions.IndexEntry, error) {
	return m.sessions.List(ctx)
}

// UploadAttachment stores a reference document for the active session
func (m *Machine) UploadAttachment(ctx context.Context, name string, r io.Reader) (*transport.RagFile, error) {
	if m.rag == nil {
		return nil, ErrRagUnavailable
	}
	m.mu.Lock()
	sessionID := m.session.ID
	m.mu.Unlock()

	file, err := m.rag.UploadFile(ctx, sessionID, name, r)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Attachment uploaded", zap.String("session_id", sessionID), zap.String("file_id", file.ID))
	return file, nil
}

// ListAttachments returns the reference documents of the active session
func (m *Machine) ListAttachments(ctx context.Context) ([]transport.RagFile, error) {
	if m.rag == nil {
		return nil, ErrRagUnavailable
	}
	m.mu.Lock()
	sessionID := m.session.ID
	m.mu.Unlock()

	return m.rag.ListFiles(ctx, sessionID)
}

// DeleteAttachment removes a reference document and drops it from the selection
func (m *Machine) DeleteAttachment(ctx context.Context, fileID string) error {
	if m.rag == nil {
		return ErrRagUnavailable
	}
	if err := m.rag.DeleteFile(ctx, fileID); err != nil {
		return err
	}

	m.mu.Lock()
	kept := m.selected[:0]
	for _, id := range m.selected {
		if id != fileID {
			kept = append(kept, id)
		}
	}
	m.selected = kept
	m.mu.Unlock()

	m.publish()
	return nil
}

// SelectAttachments sets the reference documents sent with outline requests
func (m *Machine) SelectAttachments(fileIDs []string) {
	selected := make([]string, 0, len(fileIDs))
	seen := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, id)
	}

	m.mu.Lock()
	m.selected = selected
	m.mu.Unlock()

	m.publish()
}
