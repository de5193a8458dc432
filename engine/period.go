/*
period.go - Period codec: time <-> two-letter period code

PURPOSE:
  Converts a point in time to and from a two-letter period code using a fixed
  epoch and a fixed period length. This is pure window arithmetic - periods
  are fixed-length day windows counted from an arbitrary epoch, with no
  calendar-month semantics.

CODE SPACE:
  periodIndex = first*26 + second, letters 'A'+index. 676 codes total,
  wrapping modulo 676 when advanced past "ZZ".

CALIBRATION:
  The epoch is configuration, not a constant. When the organization's current
  code drifts from real elapsed periods, Calibrate derives a fresh epoch from
  "today is period X" and records the run through a CalibrationLog so every
  recalibration is auditable.

SEE ALSO:
  - allocator.go: Consumes the current period code
  - store.go: CalibrationLog interface
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// CODEC
// =============================================================================

// Codec converts instants to period indices and codes. Pure and stateless:
// the epoch and period length are supplied, never hardcoded.
type Codec struct {
	Epoch            time.Time // start of period index 0 (UTC midnight)
	PeriodLengthDays int       // fixed window length, 14 in production
}

// NewCodec builds a codec. A non-positive length defaults to 14 days.
func NewCodec(epoch time.Time, periodLengthDays int) Codec {
	if periodLengthDays <= 0 {
		periodLengthDays = 14
	}
	return Codec{Epoch: DayOf(epoch).Time, PeriodLengthDays: periodLengthDays}
}

// PeriodIndexAt returns the raw (unwrapped) period index containing the
// instant. Instants before the epoch yield negative indices.
func (c Codec) PeriodIndexAt(instant time.Time) int {
	length := time.Duration(c.PeriodLengthDays) * 24 * time.Hour
	return int(floorDiv(int64(instant.Sub(c.Epoch)), int64(length)))
}

// CurrentCode returns the period code for the instant, wrapped modulo 676.
func (c Codec) CurrentCode(instant time.Time) PeriodCode {
	return CodeOf(c.PeriodIndexAt(instant))
}

// CodeOf converts a period index to its two-letter code, wrapping modulo 676.
func CodeOf(periodIndex int) PeriodCode {
	idx := ((periodIndex % PeriodSpan) + PeriodSpan) % PeriodSpan
	first := byte('A' + idx/26)
	second := byte('A' + idx%26)
	return PeriodCode([]byte{first, second})
}

// IndexOf converts a two-letter code back to its index in [0, 676).
func IndexOf(code PeriodCode) (int, error) {
	if !code.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriodCode, code)
	}
	return int(code[0]-'A')*26 + int(code[1]-'A'), nil
}

// Advance moves a code forward n periods (n >= 0), wrapping modulo 676.
func Advance(code PeriodCode, n int) (PeriodCode, error) {
	idx, err := IndexOf(code)
	if err != nil {
		return "", err
	}
	return CodeOf(idx + n), nil
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// =============================================================================
// CALIBRATION - First-class, audited epoch recalibration
// =============================================================================

// CalibrationRun records one epoch recalibration: the inputs that drove it
// and the epoch it produced.
type CalibrationRun struct {
	ID            string
	RequestedCode PeriodCode
	AsOf          TimePoint
	PreviousEpoch time.Time
	NewEpoch      time.Time
	Actor         string
	RanAt         time.Time
}

// Calibrate derives the epoch that satisfies
// PeriodIndexAt(asOf) == IndexOf(code) and returns a codec using it, plus the
// audit record. The caller persists the run through a CalibrationLog.
func (c Codec) Calibrate(asOf TimePoint, code PeriodCode) (Codec, CalibrationRun, error) {
	idx, err := IndexOf(code)
	if err != nil {
		return c, CalibrationRun{}, err
	}

	newEpoch := asOf.normalize().AddDate(0, 0, -idx*c.PeriodLengthDays)
	run := CalibrationRun{
		RequestedCode: code,
		AsOf:          asOf,
		PreviousEpoch: c.Epoch,
		NewEpoch:      newEpoch,
		RanAt:         time.Now().UTC(),
	}
	return Codec{Epoch: newEpoch, PeriodLengthDays: c.PeriodLengthDays}, run, nil
}

// CalibrationLog persists calibration runs. Append-only.
type CalibrationLog interface {
	AppendCalibration(ctx context.Context, run CalibrationRun) error
	ListCalibrations(ctx context.Context) ([]CalibrationRun, error)
}
