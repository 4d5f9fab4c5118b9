// Package preflight provides readiness checks for the directories and
// external services that stencil runs depend on.
//
// These checks run in two contexts:
//   - The experiment runner calls RunAll before training begins.
//     If any check fails, the run aborts instead of wasting hours of
//     optimization on a doomed setup.
//   - The CLI "stencil config show" command uses individual check
//     functions (CheckFlickr, CheckDirectoryAccess) to display health.
//
// Each check is gated by its config toggle -- unused features are skipped.
package preflight
