package domain

import "errors"

var (
	// ErrReplayRejected means a batch nonce was not strictly greater than the
	// last accepted nonce for that sender. Recoverable; the sender may retry
	// with a fresh nonce.
	ErrReplayRejected = errors.New("stale or replayed nonce")

	// ErrMarketClosed means an operation was attempted on a resolved market.
	ErrMarketClosed = errors.New("market already resolved")

	// ErrInvalidProof means an attestation or committee proof failed
	// verification. The market stays open.
	ErrInvalidProof = errors.New("resolution proof invalid")

	// ErrTransientIO means an external call (attestation service, event
	// source) was unreachable or timed out. Never a settlement-state change.
	ErrTransientIO = errors.New("transient io failure")

	// ErrAccountingInvariant means a computed payout table did not conserve
	// the combined pool. Unreachable in a correct engine.
	ErrAccountingInvariant = errors.New("payout conservation violated")

	// ErrDuplicateVote means a committee member already voted on a market.
	ErrDuplicateVote = errors.New("duplicate committee vote")

	// ErrVotingClosed means a committee vote arrived after finalization.
	ErrVotingClosed = errors.New("committee voting already finalized")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrLockHeld      = errors.New("lock already held")
)
