package session

import (
	"context"
	"errors"
	"fmt"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/protocol"
)

// Reason is a stable code a presentation layer can switch on.
type Reason string

const (
	ReasonUserCancelled     Reason = "user_cancelled"
	ReasonLedgerRejected    Reason = "ledger_rejected"
	ReasonChannelError      Reason = "channel_error"
	ReasonProtocolViolation Reason = "protocol_violation"
	ReasonTimeout           Reason = "timeout"
	ReasonInvalidState      Reason = "invalid_state"
)

// ErrClosed is returned by commands after the session loop has stopped.
var ErrClosed = errors.New("session closed")

// Error is what every session command returns on failure.
type Error struct {
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf classifies any error returned by this package or its collaborators.
func ReasonOf(err error) Reason {
	var se *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Reason
	case errors.Is(err, ledger.ErrUserCancelled):
		return ReasonUserCancelled
	case errors.Is(err, ledger.ErrReverted), errors.Is(err, ledger.ErrNoEscrow):
		return ReasonLedgerRejected
	case errors.Is(err, channel.ErrClosed), errors.Is(err, channel.ErrPeerUnavailable):
		return ReasonChannelError
	case errors.Is(err, protocol.ErrUnknownType), errors.Is(err, protocol.ErrMalformed):
		return ReasonProtocolViolation
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, game.ErrInvalidState), errors.Is(err, ErrClosed):
		return ReasonInvalidState
	}
	return ReasonLedgerRejected
}

func invalidState(op, format string, args ...any) error {
	return &Error{Reason: ReasonInvalidState, Op: op, Err: fmt.Errorf("%w: "+format, append([]any{game.ErrInvalidState}, args...)...)}
}

// ledgerError keeps cancellations apart from everything else the ledger can fail with.
func ledgerError(op string, err error) error {
	reason := ReasonLedgerRejected
	if errors.Is(err, ledger.ErrUserCancelled) {
		reason = ReasonUserCancelled
	}
	return &Error{Reason: reason, Op: op, Err: err}
}

func channelError(op string, err error) error {
	return &Error{Reason: ReasonChannelError, Op: op, Err: err}
}
