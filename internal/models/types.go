package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts on the wire are major units (naira) with up to two decimals,
// written as JSON numbers.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// TransferRequest is the payload for POST /wallet/transfer.
type TransferRequest struct {
	WalletNumber string          `json:"wallet_number" validate:"required,numeric,len=13"`
	Amount       decimal.Decimal `json:"amount"`
}

// DepositRequest is the payload for POST /wallet/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CreateKeyRequest struct {
	Name        string   `json:"name" validate:"required,max=50"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
	Expiry      string   `json:"expiry" validate:"required"`
}

type RevokeKeyRequest struct {
	KeyID string `json:"key_id" validate:"required"`
}

type RolloverKeyRequest struct {
	ExpiredKeyID string `json:"expired_key_id" validate:"required"`
	Expiry       string `json:"expiry" validate:"required"`
}

type BalanceResponse struct {
	Balance      decimal.Decimal `json:"balance"`
	WalletNumber string          `json:"wallet_number"`
	Currency     string          `json:"currency"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

type DepositResponse struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
}

type DepositStatusResponse struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

// TransactionView is one row of the transaction history.
type TransactionView struct {
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Direction string          `json:"direction,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// APIKeyResponse carries the raw key. It is the only time the secret leaves
// the server.
type APIKeyResponse struct {
	APIKey    string    `json:"api_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

type KeyView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	KeyPrefix   string    `json:"key_prefix"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `json:"revoked"`
	Active      bool      `json:"active"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type WebhookAck struct {
	Status bool `json:"status"`
}
