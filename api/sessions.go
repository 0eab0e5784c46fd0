package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memtensor/pastebridge/pkg/config"
	"github.com/memtensor/pastebridge/pkg/core"
	"github.com/memtensor/pastebridge/pkg/editor"
	pberrors "github.com/memtensor/pastebridge/pkg/errors"
	"github.com/memtensor/pastebridge/pkg/interfaces"
	"github.com/memtensor/pastebridge/pkg/metrics"
)

// SessionDeps are shared by every session
type SessionDeps struct {
	Pipeline *config.PipelineConfig
	Editor   *config.EditorConfig
	Uploader interfaces.Uploader
	Guard    interfaces.BusyGuard
	Fetcher  interfaces.Fetcher
	Reporter interfaces.Reporter
	Logger   interfaces.Logger
	Metrics  interfaces.Metrics
}

// Session is one live editing surface
type Session struct {
	ID           string
	CreatedAt    time.Time
	Document     *editor.Document
	Orchestrator *core.Orchestrator
}

// SessionManager keeps the live sessions of the service
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	deps     SessionDeps
}

// NewSessionManager creates an empty manager
func NewSessionManager(deps SessionDeps) *SessionManager {
	if deps.Editor == nil {
		deps.Editor = config.NewEditorConfig()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	return &SessionManager{sessions: make(map[string]*Session), deps: deps}
}

// Create opens a session on a fresh document
func (m *SessionManager) Create(ctx context.Context, initial string) (*Session, error) {
	doc, err := editor.NewDocument(initial)
	if err != nil {
		return nil, pberrors.NewInvalidInputError("cannot parse initial document").WithDetail("reason", err.Error())
	}

	id := uuid.New().String()
	logger := m.deps.Logger.WithFields(map[string]interface{}{"session_id": id})

	attacher := editor.NewAttacher(m.deps.Editor, nil, logger)
	attacher.NotifyReady(doc)
	ed, err := attacher.Attach(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	pipeline := m.deps.Pipeline
	m.mu.RUnlock()

	orch, err := core.NewOrchestrator(pipeline, core.Options{
		BusyKey:             id,
		EmulateDefaultPaste: true,
	}, core.Deps{
		Editor:   ed,
		Uploader: m.deps.Uploader,
		Guard:    m.deps.Guard,
		Fetcher:  m.deps.Fetcher,
		Reporter: m.deps.Reporter,
		Logger:   logger,
		Metrics:  m.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{ID: id, CreatedAt: time.Now().UTC(), Document: doc, Orchestrator: orch}
	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	m.deps.Metrics.Gauge("sessions_active", float64(m.Len()), nil)
	logger.Info("Session created", nil)
	return session, nil
}

// Get returns a session by id
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, pberrors.NewNotFoundError("session").WithDetail("session_id", id)
	}
	return s, nil
}

// Delete closes a session after its pending reports are sent
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return pberrors.NewNotFoundError("session").WithDetail("session_id", id)
	}
	s.Orchestrator.Wait()
	m.deps.Metrics.Gauge("sessions_active", float64(m.Len()), nil)
	return nil
}

// UpdatePipeline swaps the pipeline tunables used by sessions created from now on
func (m *SessionManager) UpdatePipeline(cfg *config.PipelineConfig) {
	if cfg == nil {
		return
	}
	m.mu.Lock()
	m.deps.Pipeline = cfg
	m.mu.Unlock()
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close waits for the pending reports of every session
func (m *SessionManager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.Orchestrator.Wait()
	}
}
