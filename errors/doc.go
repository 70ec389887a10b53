// Package errors provides the structured error types surfaced by the
// sandbox runtime.
//
// Every failure carries a Phase (where in the instance lifecycle it arose)
// and a Kind (what class of failure it is), so embedders can branch on
// error identity with errors.Is without string matching. Runtime faults and
// terminations additionally carry their typed payloads.
package errors
