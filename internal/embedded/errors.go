package embedded

import (
	"errors"
	"fmt"
)

var (
	ErrStopped          = errors.New("node has been stopped")
	ErrHeaderFromFuture = errors.New("header timestamp is too far in the future")
	ErrHeaderOrphan     = errors.New("header does not extend the current head")
	ErrTxInvalid        = errors.New("transaction is missing an id or weight")
	ErrTxTooHeavy       = errors.New("transaction exceeds the mineable weight")
	ErrFeeTooLow        = errors.New("transaction fee is below the accept fee base")
	ErrNRDDisabled      = errors.New("NRD kernels are not enabled on this chain")
	ErrDuplicateTx      = errors.New("transaction is already in the pool")
	ErrPoolFull         = errors.New("transaction pool is full")
	ErrRateLimited      = errors.New("transaction rejected by the pool rate limit")
)

// ErrInternal marks a storage failure rather than a rejected input.
type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}
