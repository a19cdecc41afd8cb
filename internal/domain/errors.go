package domain

import "errors"

// Business-rule errors. The HTTP layer maps each to a stable client code.
var (
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidTransfer       = errors.New("cannot transfer to your own wallet")
	ErrRecipientNotFound     = errors.New("recipient wallet not found")
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrWalletNumberExhausted = errors.New("could not allocate a unique wallet number")
	ErrUserNotFound          = errors.New("user not found")
	ErrTransactionNotFound   = errors.New("transaction not found")

	ErrKeyNotFound        = errors.New("api key not found")
	ErrKeyAlreadyRevoked  = errors.New("api key is already revoked")
	ErrKeyNotExpired      = errors.New("api key must be expired or revoked to roll over")
	ErrMaxKeysReached     = errors.New("maximum number of active api keys reached")
	ErrInvalidExpiry      = errors.New("invalid expiry, use 1H, 1D, 1M or 1Y")
	ErrInvalidPermissions = errors.New("invalid permissions")

	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrProviderUnavailable = errors.New("payment provider request failed")
)
