// Package sources defines the [Source] interface for places videos are migrated from and implements it for a remote video library and a file archive.
//
// # Remote Library
//
// [RemoteSource] talks to an HTTP video library API. Metadata lookups go to
// {base_url}/library/{library_id}/videos/{id} and originals are streamed from
// {download_url}/{id}/original. The API key travels in the AccessKey header.
// When client credentials are configured the underlying [http.Client] obtains
// and refreshes tokens through golang.org/x/oauth2/clientcredentials.
//
// Every request waits on a [rate.Limiter]. Probes run inside a gobreaker
// circuit breaker so a failing library stops being hammered; while the breaker
// is open probes fail with [shared.ErrServiceUnavailable].
//
// # Archive
//
// [ArchiveSource] reads from any rclone path. Locators are paths relative to
// the archive root. [ArchiveSource.List] walks the root and feeds catalog
// generation.
//
// # Error Handling
//
// Missing objects surface as [shared.ErrNotFound] from Fetch and as
// Exists == false from Probe. [Classify] separates permanent failures from
// retryable ones for failure reasons.
package sources
