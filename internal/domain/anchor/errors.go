package anchor

import "errors"

var (
	// ErrJobNotFound indicates the outbox job doesn't exist.
	ErrJobNotFound = errors.New("anchor job not found")
	// ErrLedgerUnavailable indicates the ledger could not be reached.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrLedgerDisabled is returned by a ledger that never anchors.
	ErrLedgerDisabled = errors.New("ledger anchoring disabled")
)
