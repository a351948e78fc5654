package errors

import "errors"

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidAccount          = errors.New("account not found")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrNotClaimable            = errors.New("transaction is not claimable")
	ErrExpired                 = errors.New("transfer has expired")
	ErrLocationRequired        = errors.New("claimant location is required")
	ErrOutsideFence            = errors.New("claimant is outside the geofence")
	ErrNotFound                = errors.New("not found")
	ErrInvalidPeriod           = errors.New("invalid lock period")
	ErrLockNotActive           = errors.New("locked saving is not active")
	ErrAccountHasActiveLocks   = errors.New("account has non-withdrawn locked savings")
	ErrProviderFailure         = errors.New("payment provider failure")
	ErrConfiguration           = errors.New("malformed fence configuration")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrBalanceLocked           = errors.New("account balance is locked by another operation")
	ErrInternal                = errors.New("internal error")
)
