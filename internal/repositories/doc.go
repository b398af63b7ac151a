// Package repositories implements SQLite persistence for migration items and the catalog.
//
// [ItemRepository] is the item store and the single source of truth for every
// migration item. Each state change it performs is a conditional UPDATE keyed on
// the current state, so two concurrent callers can never both win the same
// transition.
//
// Key Implementations:
//   - [ItemRepository] : Item CRUD, claims, worker transitions, retries and purges
//   - [CatalogRepository] : Permanent catalog of published videos used for duplicate detection
//
// Sequence numbers give items a stable claim order that follows discovery order.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
