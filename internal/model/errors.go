package model

import "errors"

// Domain error taxonomy. Validation errors are rejected before any write;
// state errors are recoverable by the caller; ErrConflict is transient and
// retried by the ledger up to a small bound before surfacing.
var (
	// Validation errors.
	ErrInvalidTopology   = errors.New("engine: outcome set does not match market topology")
	ErrInvalidWinningSet = errors.New("engine: winning set does not match market topology")
	ErrInvalidAmount     = errors.New("engine: amount must be positive")

	// State errors.
	ErrMarketNotOpen      = errors.New("engine: market is not open for trading")
	ErrMarketNotClosed    = errors.New("engine: market must be closed before settlement")
	ErrInsufficientShares = errors.New("engine: sell quantity exceeds held shares")
	ErrInsufficientFunds  = errors.New("engine: buy amount exceeds available balance")
	ErrNoPosition         = errors.New("engine: no open position for outcome")

	// Transient concurrency conflict, retried internally before surfacing.
	ErrConflict = errors.New("engine: concurrent state change, retry")
)
