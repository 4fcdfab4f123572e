// Package preflight provides readiness checks for the filesystem paths and
// remote endpoints fieldsync depends on.
//
// These checks run in two contexts:
//   - The daemon runner logs a warning for each failed check at startup. A
//     failed collector check is not fatal: reports queue until it is back.
//   - The CLI "fieldsync status" command renders every result.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
