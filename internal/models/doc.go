// Package models defines domain entities and persistence interfaces for the vidport migration pipeline.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): plain structs that cross package and process boundaries
//   - [CandidateItem] : one catalog entry produced by a catalog parser
//   - [Metadata] : descriptive fields copied through the pipeline unchanged
//   - [CatalogRecord] : an entry in the permanent catalog of published videos
//   - [ItemView] : JSON representation of a [MigrationItem]
//   - [Stats] : counts by state derived from the item store
//   - [SessionEvent] : one completed or failed download in the session log
//
// 2. Persistent Entities: database-backed models with lifecycle management
//   - [MigrationItem] : the unit of work, moved through the [State] machine
//
// [MigrationItem] implements the Model interface. The Repository[T] interface defines standard CRUD operations for database access.
//
// # State machine
//
//	discovered -> unmatched | skipped_duplicate | pending_download
//	pending_download -> downloading (claim)
//	downloading -> downloaded -> pending_transcode (success)
//	downloading -> download_failed (failure) -> pending_download (retry)
//	pending_transcode -> processing (handoff claim) -> processed | failed
//	failed -> pending_transcode (retry)
package models
