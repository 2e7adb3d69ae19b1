package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeModule struct {
	name     string
	events   map[Name]Shape
	handled  []Name
	subErr   error
	subCalls int
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) RegisterEvents(registry *Registry) error {
	for name, shape := range m.events {
		if err := registry.Register(name, shape); err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeModule) Subscribe(registry *Registry) error {
	m.subCalls++
	if m.subErr != nil {
		return m.subErr
	}
	for _, name := range m.handled {
		if err := registry.Subscribe(name, func(context.Context, Payload) (any, error) { return m.name, nil }); err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeModule) HandledEvents() []Name { return m.handled }

func TestInstallRegistersAndSubscribes(t *testing.T) {
	session := &fakeModule{
		name:    "session",
		events:  map[Name]Shape{"LOG_IN": NewShape(String("userId")), "SIGN_OUT": {}},
		handled: []Name{"LOG_IN", "SIGN_OUT"},
	}
	audit := &fakeModule{name: "audit", events: map[Name]Shape{"AUDIT": {}}, handled: []Name{"AUDIT"}}

	registry := NewRegistry()
	if err := Install(registry, session, audit); err != nil {
		t.Fatalf("install: %v", err)
	}
	if registry.Sealed() {
		t.Fatal("expected Install to leave the registry open")
	}
	if len(registry.ListDefinitions()) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(registry.ListDefinitions()))
	}
	result, err := registry.Dispatch(context.Background(), "AUDIT", nil)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(result.Outputs) != 1 || result.Outputs[0] != "audit" {
		t.Fatalf("unexpected outputs %v", result.Outputs)
	}
}

func TestInstallSubscribesAfterAllEventsAreRegistered(t *testing.T) {
	// listener handles an event owned by a module installed after it.
	listener := &fakeModule{name: "listener", handled: []Name{"LOG_IN"}}
	owner := &fakeModule{name: "owner", events: map[Name]Shape{"LOG_IN": {}}}
	if err := Install(NewRegistry(), listener, owner); err != nil {
		t.Fatalf("install: %v", err)
	}
}

func TestInstallRejectsDuplicateVariantsAcrossModules(t *testing.T) {
	a := &fakeModule{name: "a", events: map[Name]Shape{"LOG_IN": {}}, handled: []Name{"LOG_IN"}}
	b := &fakeModule{name: "b", events: map[Name]Shape{"LOG_IN": {}}}
	err := Install(NewRegistry(), a, b)
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	if !strings.Contains(err.Error(), "register b events") {
		t.Fatalf("expected module name in error, got %v", err)
	}
	if a.subCalls != 0 {
		t.Fatal("expected no subscriptions after a registration failure")
	}
}

func TestInstallStopsOnSubscribeError(t *testing.T) {
	boom := errors.New("boom")
	m := &fakeModule{name: "m", events: map[Name]Shape{"E": {}}, subErr: boom}
	if err := Install(NewRegistry(), m); !errors.Is(err, boom) {
		t.Fatalf("expected subscribe error, got %v", err)
	}
}

func TestInstallRejectsNilInputs(t *testing.T) {
	if err := Install(nil); !errors.Is(err, ErrRegistryRequired) {
		t.Fatalf("expected ErrRegistryRequired, got %v", err)
	}
	if err := Install(NewRegistry(), nil); err == nil {
		t.Fatal("expected nil module error")
	}
}

func TestValidateCoverageReportsAllProblems(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []Name{"LOG_IN", "SIGN_OUT", "ADD_TODO"} {
		if err := registry.Register(name, Shape{}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	modules := []Module{
		&fakeModule{name: "session", handled: []Name{"LOG_IN", "GHOST"}},
		&fakeModule{name: "audit", handled: []Name{"LOG_IN"}},
	}

	err := ValidateCoverage(registry, modules...)
	if !errors.Is(err, ErrCoverageIncomplete) {
		t.Fatalf("expected ErrCoverageIncomplete, got %v", err)
	}
	for _, want := range []string{
		"event ADD_TODO has no handling module",
		"event SIGN_OUT has no handling module",
		"event LOG_IN is handled by session, audit",
		"module session handles unregistered event GHOST",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateCoverageComplete(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("LOG_IN", Shape{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ValidateCoverage(registry, &fakeModule{name: "session", handled: []Name{"LOG_IN"}}); err != nil {
		t.Fatalf("expected complete coverage, got %v", err)
	}
}
