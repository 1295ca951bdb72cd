// Package preflight provides readiness checks for the binaries and
// filesystem paths whisperd depends on.
//
// These checks run in two contexts:
//   - "whisperd serve" calls RunAll and CheckSystemDeps before starting the
//     WhisperX worker and logs every failure.
//   - The CLI "whisperd status" command renders the same results as a table.
package preflight
