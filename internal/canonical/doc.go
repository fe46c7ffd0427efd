// Package canonical implements the content identity layer for dgate.
//
// Every hash that appears in a decision record, a packet envelope or a
// runpack manifest is computed over the RFC 8785 canonical form produced
// here. The package imports nothing internal.
//
// Key constraints:
//   - Strings and object keys are NFC normalized before canonicalization
//   - Object keys are ordered by UTF-16 code units
//   - Numbers use the ECMAScript shortest round-trip form
//   - Non-finite numbers, unsupported Go types and integers outside the
//     IEEE-754 exact range are rejected, never coerced
package canonical
