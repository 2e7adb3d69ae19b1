package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Module contributes event variants and their handlers to a shared registry.
//
// Any number of modules may extend the same registry; each one owns the
// variants it registers and declares the events its handlers cover so that
// Install can verify every variant is handled exactly once.
type Module interface {
	Name() string
	RegisterEvents(registry *Registry) error
	Subscribe(registry *Registry) error
	// HandledEvents lists the events this module's handlers cover.
	HandledEvents() []Name
}

// Install registers every module's events, then every module's handlers, and
// validates handler coverage. The registry is left open so the caller can add
// further variants before sealing it.
func Install(registry *Registry, modules ...Module) error {
	if registry == nil {
		return ErrRegistryRequired
	}
	for _, module := range modules {
		if module == nil {
			return errors.New("module is required")
		}
		if err := module.RegisterEvents(registry); err != nil {
			return fmt.Errorf("register %s events: %w", module.Name(), err)
		}
	}
	for _, module := range modules {
		if err := module.Subscribe(registry); err != nil {
			return fmt.Errorf("subscribe %s handlers: %w", module.Name(), err)
		}
	}
	return ValidateCoverage(registry, modules...)
}

// ValidateCoverage verifies that every registered event is handled by exactly
// one module and that no module claims an unregistered event. All problems are
// reported together.
func ValidateCoverage(registry *Registry, modules ...Module) error {
	if registry == nil {
		return ErrRegistryRequired
	}
	owners := make(map[Name][]string)
	var problems []string
	for _, module := range modules {
		if module == nil {
			continue
		}
		for _, name := range module.HandledEvents() {
			name = normalizeName(name)
			if _, ok := registry.Definition(name); !ok {
				problems = append(problems, fmt.Sprintf("module %s handles unregistered event %s", module.Name(), displayName(name)))
				continue
			}
			owners[name] = append(owners[name], module.Name())
		}
	}
	for _, def := range registry.ListDefinitions() {
		switch claimed := owners[def.Name]; len(claimed) {
		case 0:
			problems = append(problems, fmt.Sprintf("event %s has no handling module", def.Name))
		case 1:
		default:
			problems = append(problems, fmt.Sprintf("event %s is handled by %s", def.Name, strings.Join(claimed, ", ")))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrCoverageIncomplete, strings.Join(problems, "; "))
}
