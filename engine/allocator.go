/*
allocator.go - Sequence allocation within a period

PURPOSE:
  Computes the next order identifier from the last-issued one and the current
  period code. Handles period rollover, numeric overflow past 999, and dirty
  legacy input.

RECOVERY POLICY:
  A malformed last identifier is not fatal: the allocator extracts the first
  embedded numeric run and increments it, or falls back to sequence 1. This is
  a deliberate recovery path for legacy data, not silent loss.

CONCURRENCY:
  Next is pure. Serialization of concurrent allocators lives in the service
  layer (single critical section per kind) with the store's compare-and-set
  head as the second line of defense.

SEE ALSO:
  - period.go: Period code arithmetic
  - store.go: WorkItemStore.CommitIdentifier (CAS)
*/
package engine

import (
	"regexp"
	"strconv"
)

// =============================================================================
// PARSING
// =============================================================================

var numericRun = regexp.MustCompile(`[0-9]+`)

// ParseIdentifier splits a well-formed identifier into period code and
// sequence. ok is false for anything that is not 2 letters + 3 digits.
func ParseIdentifier(id Identifier) (code PeriodCode, seq int, ok bool) {
	if len(id) != 5 {
		return "", 0, false
	}
	code = PeriodCode(id[:2])
	if !code.Valid() {
		return "", 0, false
	}
	seq, err := strconv.Atoi(string(id[2:]))
	if err != nil || seq < 1 || seq > MaxSequence {
		return "", 0, false
	}
	return code, seq, true
}

// fallbackSequence recovers a sequence from a malformed identifier: the first
// embedded numeric run plus one, or 1 when no digits exist at all.
func fallbackSequence(id Identifier) int {
	run := numericRun.FindString(string(id))
	if run == "" {
		return 1
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return 1
	}
	return n + 1
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Next computes the identifier following last within the current period.
//
// Rules, in order:
//  1. Empty last -> first identifier of the current period.
//  2. Malformed last -> numeric-run fallback under the current period.
//  3. Same period -> sequence + 1.
//  4. Different period (earlier, or "future" under clock skew) -> sequence 1
//     under the current period.
//  5. Sequence past 999 -> advance the period one step, sequence 1.
func Next(last Identifier, current PeriodCode) (Identifier, error) {
	if !current.Valid() {
		return "", ErrInvalidPeriodCode
	}
	if last == "" {
		return FormatIdentifier(current, 1), nil
	}

	code, seq, ok := ParseIdentifier(last)
	switch {
	case !ok:
		seq = fallbackSequence(last)
	case code == current:
		seq++
	default:
		// Parsed period differs from the current one. Accepted as-is, with the
		// sequence restarted under the current period - see the clock-skew
		// policy note in DESIGN.md.
		seq = 1
	}

	if seq > MaxSequence {
		advanced, err := Advance(current, 1)
		if err != nil {
			return "", err
		}
		return FormatIdentifier(advanced, 1), nil
	}
	return FormatIdentifier(current, seq), nil
}
