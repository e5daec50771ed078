// Package ir provides the value model and record types shared by the
// session, the query layers and the document store.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Document bodies are IRObject values; no float types anywhere
//   - Canonical JSON (MarshalCanonical) is the only snapshot format used
//     for change detection
//   - Errors crossing package boundaries are *Error values carrying an
//     ErrorCode so callers can classify them with errors.As
package ir
