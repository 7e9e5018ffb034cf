// Package preflight provides readiness checks for the directories and
// external binaries markergate depends on.
//
// These checks run in two contexts:
//   - "markergate serve" runs RunAll at startup and refuses to start when a
//     required check fails.
//   - "markergate status" renders every result, marking optional misses as
//     warnings rather than errors.
package preflight
