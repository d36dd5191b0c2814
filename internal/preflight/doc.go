// Package preflight provides readiness checks for external services
// and filesystem paths that Lectern depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs the outcome so doomed
//     configurations surface before the first run is requested.
//   - The CLI "lectern status" command uses individual check functions
//     (CheckTranscriptAPI, CheckDirectoryAccess) to display service health.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
