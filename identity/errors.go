package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCodeCount indicates a recovery set that does not hold exactly CodeCount codes
	ErrCodeCount = errors.New("wrong number of recovery codes")
	// ErrCodeFormat indicates a recovery code that is not CodeLength hex characters
	ErrCodeFormat = errors.New("malformed recovery code")
	// ErrInvalidPublicID indicates a public ID that is not PublicIDLength hex characters
	ErrInvalidPublicID = errors.New("invalid public ID")
	// ErrNoCodes indicates derivation was attempted on an empty code set
	ErrNoCodes = errors.New("no recovery codes supplied")
)

// InvalidCode names one rejected entry of a recovery set.
type InvalidCode struct {
	Index int
	Value string
}

// ValidationError reports malformed input detected before any cryptographic
// work is done. Invalid lists every offending code when the cause is
// ErrCodeFormat.
type ValidationError struct {
	Err     error
	Invalid []InvalidCode
	Got     int
}

func (e *ValidationError) Error() string {
	switch {
	case errors.Is(e.Err, ErrCodeCount):
		return fmt.Sprintf("%v: got %d, want %d", e.Err, e.Got, CodeCount)
	case len(e.Invalid) > 0:
		parts := make([]string, 0, len(e.Invalid))
		for _, c := range e.Invalid {
			parts = append(parts, fmt.Sprintf("#%d %q", c.Index+1, c.Value))
		}
		return fmt.Sprintf("%v: %s", e.Err, strings.Join(parts, ", "))
	default:
		return e.Err.Error()
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DerivationError wraps a failure of the random source or hash while
// deriving identity material. It is fatal to the operation.
type DerivationError struct {
	Op  string
	Err error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("identity derivation failed during %s: %v", e.Op, e.Err)
}

func (e *DerivationError) Unwrap() error { return e.Err }
