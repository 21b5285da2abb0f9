package domain

import "errors"

var (
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrInvalidMarket  = errors.New("invalid market")
	ErrInvalidAction  = errors.New("invalid trade action")
	ErrNotFound       = errors.New("not found")
	ErrQueueFull      = errors.New("control queue full")
	ErrRateLimited    = errors.New("rate limited")
	ErrFeedClosed     = errors.New("feed closed")
)
