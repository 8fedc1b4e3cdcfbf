package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrLockHeld         = errors.New("lock already held")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrOrderNotFound    = errors.New("stop/take-profit order not found")
	ErrInvalidPrice     = errors.New("invalid price data")
	ErrInvalidTrade     = errors.New("invalid trade record")
)
