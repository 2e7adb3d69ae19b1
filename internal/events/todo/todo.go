// Package todo contributes the todo list events and keeps the list they
// build.
package todo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/louisbranch/typedevents/internal/dispatch"
	"github.com/louisbranch/typedevents/internal/platform/id"
)

const (
	// EventAdd appends a todo with the given text.
	EventAdd dispatch.Name = "ADD_TODO"
	// EventEdit replaces the text of an existing todo.
	EventEdit dispatch.Name = "EDIT_TODO"
	// EventRemove deletes a todo by id.
	EventRemove dispatch.Name = "REMOVE_TODO"
)

var (
	// ErrTodoNotFound indicates an edit or removal of an unknown todo.
	ErrTodoNotFound = errors.New("todo not found")
	// ErrUnhandledEvent indicates an event outside the module's closed set.
	ErrUnhandledEvent = errors.New("todo module does not handle event")
)

type addPayload struct {
	Text string `json:"text"`
}

type editPayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type removePayload struct {
	ID string `json:"id"`
}

// Todo is one entry of the list.
type Todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Module owns the todo events and their list.
type Module struct {
	mu    sync.Mutex
	todos []Todo
	newID func() (string, error)
}

// New returns a module with an empty list.
func New() *Module {
	return &Module{newID: id.NewID}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "todo"
}

// RegisterEvents registers the todo events with strict payloads.
func (m *Module) RegisterEvents(registry *dispatch.Registry) error {
	if err := registerStrict[addPayload](registry, EventAdd); err != nil {
		return err
	}
	if err := registerStrict[editPayload](registry, EventEdit); err != nil {
		return err
	}
	return registerStrict[removePayload](registry, EventRemove)
}

func registerStrict[P any](registry *dispatch.Registry, name dispatch.Name) error {
	shape, err := dispatch.ShapeOf[P]()
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return registry.Register(name, shape.Strict())
}

// Subscribe routes every todo event through the list reducer.
func (m *Module) Subscribe(registry *dispatch.Registry) error {
	for _, name := range m.HandledEvents() {
		if err := registry.Subscribe(name, func(_ context.Context, payload dispatch.Payload) (any, error) {
			return m.apply(name, payload)
		}); err != nil {
			return err
		}
	}
	return nil
}

// HandledEvents lists the events Subscribe covers.
func (m *Module) HandledEvents() []dispatch.Name {
	return []dispatch.Name{EventAdd, EventEdit, EventRemove}
}

// Todos returns a copy of the list in insertion order.
func (m *Module) Todos() []Todo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.todos)
}

func (m *Module) apply(name dispatch.Name, payload dispatch.Payload) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case EventAdd:
		p, err := dispatch.Decode[addPayload](payload)
		if err != nil {
			return nil, err
		}
		todoID, err := m.newID()
		if err != nil {
			return nil, err
		}
		todo := Todo{ID: todoID, Text: p.Text}
		m.todos = append(m.todos, todo)
		return todo, nil
	case EventEdit:
		p, err := dispatch.Decode[editPayload](payload)
		if err != nil {
			return nil, err
		}
		i := m.index(p.ID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTodoNotFound, p.ID)
		}
		m.todos[i].Text = p.Text
		return m.todos[i], nil
	case EventRemove:
		p, err := dispatch.Decode[removePayload](payload)
		if err != nil {
			return nil, err
		}
		i := m.index(p.ID)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrTodoNotFound, p.ID)
		}
		removed := m.todos[i]
		m.todos = slices.Delete(m.todos, i, i+1)
		return removed, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, name)
	}
}

func (m *Module) index(todoID string) int {
	return slices.IndexFunc(m.todos, func(t Todo) bool { return t.ID == todoID })
}
