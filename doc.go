// Package flowsession provides a workflow-session execution engine.
//
// A flow session is a running instance of a workflow definition. The
// engine manages the session lifecycle state machine, the per-stage
// execution records within a session, the process-wide current-session
// pointer, and the dependency-graph resolution that determines which
// stages may run next.
//
// Core components include:
//   - Engine: session-level CRUD, lifecycle transitions, context handling,
//     and current-session switching
//   - InstanceManager: stage-instance lifecycle and checklist progress
//   - Resolver: dependency-graph eligibility and progress summaries
//   - store: durable SQLite persistence for sessions and stage instances
//   - definition: read-only registry of YAML workflow templates
//
// The engine performs no scheduling of its own: every public operation is
// invoked synchronously by one caller, and each logical command runs in a
// single transactional scope.
package flowsession
