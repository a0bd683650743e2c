package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Placement rejections, checked in this order.
	ErrSymbolInactive      = errors.New("symbol not found or inactive")
	ErrInvalidDirection    = errors.New("invalid trade direction")
	ErrStakeOutOfBounds    = errors.New("stake out of bounds")
	ErrInvalidExpiry       = errors.New("invalid expiry")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPriceUnavailable    = errors.New("price unavailable")

	// Settlement.
	ErrTradeNotPending        = errors.New("trade is not pending")
	ErrReconciliationRequired = errors.New("reconciliation required")
)
