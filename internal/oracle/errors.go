package oracle

import "errors"

var (
	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("oracle: already initialized")
	// ErrNotInitialized is returned by every entry point that runs before Initialize.
	ErrNotInitialized = errors.New("oracle: not initialized")
	// ErrUnauthorized means the caller did not authenticate the invocation or
	// does not hold the role the operation requires.
	ErrUnauthorized = errors.New("oracle: unauthorized")
	// ErrFutureOrPresentEpoch rejects reports for epochs that have not fully elapsed.
	ErrFutureOrPresentEpoch = errors.New("oracle: epoch has not elapsed")
	// ErrNonSequentialEpoch rejects reports that do not target latest+1.
	ErrNonSequentialEpoch = errors.New("oracle: epoch is not sequential")
	// ErrRecordNotFound is returned when no value was reported for an epoch.
	ErrRecordNotFound = errors.New("oracle: record not found")
	// ErrTransferFailed wraps a ledger failure during payout.
	ErrTransferFailed = errors.New("oracle: payout transfer failed")
	// ErrInvalidEpochDuration flags a zero or missing epoch duration.
	ErrInvalidEpochDuration = errors.New("oracle: epoch duration must be positive")
	// ErrEpochOverflow is returned when the epoch index no longer fits in 32 bits.
	ErrEpochOverflow = errors.New("oracle: epoch index overflows uint32")
)
