package core

import "errors"

var (
	ErrUnknownTarget      = errors.New("unknown target")
	ErrConflictingRequest = errors.New("a request to this device is already pending")
	ErrNotFound           = errors.New("session not found")
	ErrNotAuthorized      = errors.New("not a participant of this session")
	ErrAlreadyResolved    = errors.New("session already resolved")
	ErrInvalidState       = errors.New("invalid session state")
	ErrOutOfOrder         = errors.New("chunk out of order")
	ErrSizeMismatch       = errors.New("chunk total mismatch")
	ErrReceiverGone       = errors.New("receiver disconnected")
	ErrSenderGone         = errors.New("sender disconnected")
	ErrTimedOut           = errors.New("request timed out")
	ErrMalformed          = errors.New("malformed message")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrDuplicateDevice    = errors.New("device already registered")
	ErrHandlerPanic       = errors.New("handler panicked")
)

const CodeInternal = "internal"

var codes = []struct {
	err  error
	code string
}{
	{ErrUnknownTarget, "unknown_target"},
	{ErrConflictingRequest, "conflicting_request"},
	{ErrNotFound, "not_found"},
	{ErrNotAuthorized, "not_authorized"},
	{ErrAlreadyResolved, "already_resolved"},
	{ErrInvalidState, "invalid_state"},
	{ErrOutOfOrder, "out_of_order"},
	{ErrSizeMismatch, "size_mismatch"},
	{ErrReceiverGone, "receiver_gone"},
	{ErrSenderGone, "sender_gone"},
	{ErrTimedOut, "timeout"},
	{ErrMalformed, "malformed"},
	{ErrUnknownEvent, "unknown_event"},
	{ErrDuplicateDevice, "duplicate_device"},
}

// Code maps an error onto its wire code.
func Code(err error) string {
	if err == nil {
		return ""
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeInternal
}
