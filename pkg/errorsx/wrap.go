package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError carries a reason code next to the underlying failure.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

func (e ReasonedError) Category() Category { return CategoryOf(e.Reason) }

// Wrap attaches reason to err. An error that already carries a known reason
// keeps it, so the innermost classification wins.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

func Newf(reason ReasonCode, format string, args ...any) error {
	return ReasonedError{Err: fmt.Errorf(format, args...), Reason: reason}
}

// Reason returns the first reason code found in err's chain.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err == nil || !errors.As(err, &re) {
		return ReasonUnknown
	}
	return re.Reason
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// Classify maps err to the category a session uses to react to it.
func Classify(err error) Category {
	return CategoryOf(Reason(err))
}

// IsFatal reports whether err ends the current negotiation attempt.
func IsFatal(err error) bool {
	return err != nil && Fatal(Reason(err))
}
