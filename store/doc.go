// Package store provides durable persistence for flow sessions and their
// stage instances on top of SQLite.
//
// The package holds the persisted data model (Session, StageInstance, and
// their status enumerations) together with one repository type per entity.
// Repositories are pure persistence adapters: they offer transactional
// create/read/update/delete plus filtered queries and enforce no business
// rules. Lifecycle invariants are the responsibility of the managers built
// on top of them.
//
// Multi-row mutations that must stay consistent, such as switching the
// current session or deleting a session together with its stage instances,
// run inside a single SQL transaction.
package store
