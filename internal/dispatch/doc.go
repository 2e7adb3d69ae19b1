// Package dispatch defines the event registry and the validated dispatch entry
// point used to raise named events.
//
// A Registry owns a closed set of event variants. Each variant pairs a unique
// name with a payload Shape that every dispatched payload must structurally
// satisfy before any subscribed handler observes it. Variants with an empty
// shape take no payload at all.
//
// Registries start open: any module handed the registry may contribute
// variants and subscriptions during startup. The first Dispatch (or an
// explicit Seal) closes registration for the rest of the registry's lifetime,
// after which the variant set is read-only and safe to share.
package dispatch
