package graph

import (
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every DecodeError for errors.Is() checks.
var ErrDecode = errors.New("decode error")

// DecodeReason says why a definition could not be used as stored.
type DecodeReason string

const (
	ReasonEmpty     DecodeReason = "empty"
	ReasonMalformed DecodeReason = "malformed"
	ReasonNoNodes   DecodeReason = "no-nodes"
)

// DecodeError is the diagnostic returned by Decode when the default graph was
// substituted. It is never a failure for the caller.
type DecodeError struct {
	Reason DecodeReason
	Err    error // underlying json error, only set for ReasonMalformed
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode.Error(), e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }
