// Package event provides a pub-sub event bus for decoupled inter-component
// communication in macroexpand.
//
// Editor integrations (the file watcher, the HTTP API, the config reloader)
// publish document and settings events; the session store subscribes to them
// and publishes its own lifecycle events, which the watcher and the render
// history consume. No producer holds a reference to its consumers.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Document notifications:
//   - [DocumentSavedEvent]: a source document was written
//   - [DocumentClosedEvent]: a source document is no longer being edited
//
// Configuration:
//   - [SettingsChangedEvent]: the user settings were reloaded
//
// Session lifecycle:
//   - [SessionCreatedEvent]: a session finished bootstrapping its workspace
//   - [SessionDisposedEvent]: a session released its workspace
//   - [ArtifactRenderedEvent]: an artifact was written, successfully or not
//
// # Thread Safety
//
// All [Bus] methods are safe for concurrent use. Handlers run synchronously on
// the publishing goroutine; a handler that blocks delays the publisher, so
// long-running work should be handed off to another goroutine.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//	id := bus.Subscribe(event.TypeDocumentSaved, func(e event.Event) {
//	    saved := e.(event.DocumentSavedEvent)
//	    fmt.Println("saved:", saved.Path)
//	})
//	defer bus.Unsubscribe(id)
//
//	bus.Publish(event.NewDocumentSavedEvent("/crate/src/lib.rs"))
package event
