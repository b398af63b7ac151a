// Package tasks runs the migration pipeline: matching, scheduling, downloading and the transcode handoff, with real-time progress reporting.
//
// # Core Operations
//
// The [Orchestrator] is the operator control surface:
//
//  1. [Orchestrator.Scan] : Match a parsed catalog against a source
//     - Duplicates of published catalog records become skipped_duplicate
//     - Candidates whose locator resolves become pending_download
//     - Everything else becomes unmatched with a reason
//     - Re-scans only ever create items or revisit unmatched ones
//
//  2. [Orchestrator.Start] / [Orchestrator.Stop] : Run the [Scheduler]
//     - Each tick fills free slots by claiming pending_download items
//     - A [Worker] per claim streams, verifies and stores the payload
//     - Stop halts claims; in-flight downloads always finish
//
//  3. [Orchestrator.RetrySingle], [Orchestrator.RetryAllFailed], [Orchestrator.Purge] : Operator actions on failed items
//
//  4. [Orchestrator.StatsSnapshot] : Progress derived from counts by state
//
// # Recovery
//
// All truth lives in the item store. On start the scheduler releases
// downloading claims older than the claim timeout and reconciles items left in
// downloaded. [Handoff.Reclaim] does the same for stale processing claims.
//
// # Progress Reporting
//
// Operations accept an optional channel of [ProgressUpdate]. Updates use
// select with default so a slow reader never blocks the pipeline.
//
// # Session
//
// [Session] holds the slot map, per-run counters and a ring buffer of recent
// [models.SessionEvent] values. It is rebuilt on every start and is never
// authoritative.
package tasks
