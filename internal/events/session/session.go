// Package session contributes the login lifecycle events and tracks who is
// signed in.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/louisbranch/typedevents/internal/dispatch"
)

const (
	// EventLogIn signs a user in.
	EventLogIn dispatch.Name = "LOG_IN"
	// EventSignOut signs the current user out. It takes no payload.
	EventSignOut dispatch.Name = "SIGN_OUT"
)

// ErrNotSignedIn indicates a sign out without an active session.
var ErrNotSignedIn = errors.New("no user is signed in")

// LogInPayload is the payload of EventLogIn.
type LogInPayload struct {
	UserID string `json:"userId"`
}

// State is the current session.
type State struct {
	UserID   string `json:"userId,omitempty"`
	LoggedIn bool   `json:"loggedIn"`
}

// Module owns the session events.
type Module struct {
	mu    sync.Mutex
	state State
}

// New returns a module with no active session.
func New() *Module {
	return &Module{}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "session"
}

// RegisterEvents registers LOG_IN and SIGN_OUT.
func (m *Module) RegisterEvents(registry *dispatch.Registry) error {
	if err := dispatch.RegisterType[LogInPayload](registry, EventLogIn); err != nil {
		return err
	}
	return registry.Register(EventSignOut, dispatch.Shape{})
}

// Subscribe attaches the session handlers.
func (m *Module) Subscribe(registry *dispatch.Registry) error {
	if err := dispatch.Handle(registry, EventLogIn, m.logIn); err != nil {
		return err
	}
	return registry.Subscribe(EventSignOut, m.signOut)
}

// HandledEvents lists the events Subscribe covers.
func (m *Module) HandledEvents() []dispatch.Name {
	return []dispatch.Name{EventLogIn, EventSignOut}
}

// State returns a snapshot of the session.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Module) logIn(_ context.Context, payload LogInPayload) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{UserID: payload.UserID, LoggedIn: true}
	return m.state, nil
}

func (m *Module) signOut(context.Context, dispatch.Payload) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.LoggedIn {
		return nil, ErrNotSignedIn
	}
	m.state = State{}
	return m.state, nil
}
