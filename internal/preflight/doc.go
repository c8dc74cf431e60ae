// Package preflight provides readiness checks for the detector backend and
// the filesystem paths a scan depends on.
//
// These checks run in two contexts:
//   - The scan pipeline calls CheckDetector before enumerating files so a
//     missing detector fails the run before any work is done.
//   - The CLI "sift preflight" command calls RunAll and prints every result.
package preflight
