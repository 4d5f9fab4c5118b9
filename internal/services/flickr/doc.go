// Package flickr provides a rate-limited client for the Flickr REST API.
//
// This package is used by:
//   - Fetch command: collect real-world photographs for dataset assembly
//   - Preflight: verify API key validity before a fetch begins
//
// # Acquisition Flow
//
// Search pages through flickr.photos.search results for a tag query.
// FetchImages drains search pages and downloads each photo as
// <id>.jpg under <dir>/raw, skipping files that already exist locally.
// A resources.json index (photo id to source URL) is maintained beside
// the raw directory and written atomically, so interrupted fetches
// resume without re-downloading.
//
// # Configuration
//
// Requires api_key; base_url, user_agent, requests_per_minute, and
// timeout are optional. Requests are throttled client-side with a
// token-bucket limiter sized from requests_per_minute.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Search: fetch one page of photo search results.
// Client.FetchImages: download up to maxCount photos for a query.
// Client.HealthCheck: verify API key via flickr.test.echo.
//
// # Retry Behaviour
//
// API calls retry on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 5 attempts by default),
// honoring Retry-After. Context cancellation aborts retries
// immediately. Individual photo downloads are not retried; a failed or
// non-image response skips that photo and the batch continues.
package flickr
