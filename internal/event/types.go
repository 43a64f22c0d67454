package event

import (
	"time"

	"github.com/Iron-Ham/macroexpand/internal/config"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier (e.g., "document.saved").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeDocumentSaved    = "document.saved"
	TypeDocumentClosed   = "document.closed"
	TypeSettingsChanged  = "settings.changed"
	TypeSessionCreated   = "session.created"
	TypeSessionDisposed  = "session.disposed"
	TypeArtifactRendered = "artifact.rendered"
)

// Trigger records what caused a render.
type Trigger string

const (
	// TriggerExpand is an explicit expand request.
	TriggerExpand Trigger = "expand"
	// TriggerSave is a save of an already tracked document.
	TriggerSave Trigger = "save"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Document Events
// -----------------------------------------------------------------------------

// DocumentSavedEvent is published when a source document was saved.
type DocumentSavedEvent struct {
	baseEvent
	Path string
}

// NewDocumentSavedEvent creates a DocumentSavedEvent.
func NewDocumentSavedEvent(path string) DocumentSavedEvent {
	return DocumentSavedEvent{baseEvent: newBaseEvent(TypeDocumentSaved), Path: path}
}

// DocumentClosedEvent is published when a source document was closed.
type DocumentClosedEvent struct {
	baseEvent
	Path string
}

// NewDocumentClosedEvent creates a DocumentClosedEvent.
func NewDocumentClosedEvent(path string) DocumentClosedEvent {
	return DocumentClosedEvent{baseEvent: newBaseEvent(TypeDocumentClosed), Path: path}
}

// -----------------------------------------------------------------------------
// Configuration Events
// -----------------------------------------------------------------------------

// SettingsChangedEvent carries a complete replacement settings snapshot.
type SettingsChangedEvent struct {
	baseEvent
	Settings config.Settings
}

// NewSettingsChangedEvent creates a SettingsChangedEvent.
func NewSettingsChangedEvent(settings config.Settings) SettingsChangedEvent {
	return SettingsChangedEvent{baseEvent: newBaseEvent(TypeSettingsChanged), Settings: settings}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionCreatedEvent is published once a session's workspace is bootstrapped
// and the session is visible in the store.
type SessionCreatedEvent struct {
	baseEvent
	SessionID    string
	SourcePath   string
	WorkspaceDir string
	ArtifactPath string
}

// NewSessionCreatedEvent creates a SessionCreatedEvent.
func NewSessionCreatedEvent(sessionID, sourcePath, workspaceDir, artifactPath string) SessionCreatedEvent {
	return SessionCreatedEvent{
		baseEvent:    newBaseEvent(TypeSessionCreated),
		SessionID:    sessionID,
		SourcePath:   sourcePath,
		WorkspaceDir: workspaceDir,
		ArtifactPath: artifactPath,
	}
}

// SessionDisposedEvent is published after a session released its workspace.
type SessionDisposedEvent struct {
	baseEvent
	SessionID  string
	SourcePath string
	Err        error // first error hit while releasing resources, if any
}

// NewSessionDisposedEvent creates a SessionDisposedEvent.
func NewSessionDisposedEvent(sessionID, sourcePath string, err error) SessionDisposedEvent {
	return SessionDisposedEvent{
		baseEvent:  newBaseEvent(TypeSessionDisposed),
		SessionID:  sessionID,
		SourcePath: sourcePath,
		Err:        err,
	}
}

// RenderOutcome is what a single render produced.
type RenderOutcome struct {
	SessionID    string
	SourcePath   string
	Command      string
	ArtifactPath string
	Trigger      Trigger
	OK           bool
	ExitCode     int    // -1 when the tool did not exit normally
	Error        string // tool failure status, empty on success
	StartedAt    time.Time
	Duration     time.Duration
}

// ArtifactRenderedEvent is published after every render.
type ArtifactRenderedEvent struct {
	baseEvent
	RenderOutcome
}

// NewArtifactRenderedEvent creates an ArtifactRenderedEvent.
func NewArtifactRenderedEvent(o RenderOutcome) ArtifactRenderedEvent {
	return ArtifactRenderedEvent{baseEvent: newBaseEvent(TypeArtifactRendered), RenderOutcome: o}
}
