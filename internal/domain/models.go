package domain

import (
	"time"
)

const DefaultCurrency = "NGN"

// User is the owner of a wallet and of API keys. Registration lives elsewhere;
// the ledger only reads it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet holds a balance in minor units. Balance never drops below zero.
type Wallet struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	WalletNumber string    `json:"wallet_number"`
	Balance      int64     `json:"balance"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type TransactionType string

const (
	TransactionDeposit  TransactionType = "deposit"
	TransactionTransfer TransactionType = "transfer"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusSuccess   TransactionStatus = "success"
	StatusFailed    TransactionStatus = "failed"
	StatusAbandoned TransactionStatus = "abandoned"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Transaction is an audit record. After insert only Status and the settlement
// fields (Channel, Currency, PaidAt) change.
type Transaction struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Type              TransactionType   `json:"type"`
	Reference         string            `json:"reference"`
	Amount            int64             `json:"amount"`
	Status            TransactionStatus `json:"status"`
	Direction         Direction         `json:"direction,omitempty"`
	WalletID          string            `json:"wallet_id,omitempty"`
	SenderWalletID    string            `json:"sender_wallet_id,omitempty"`
	RecipientWalletID string            `json:"recipient_wallet_id,omitempty"`
	Email             string            `json:"email,omitempty"`
	Currency          string            `json:"currency"`
	Channel           string            `json:"channel,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Settlement carries the provider-reported fields written when a deposit
// changes status.
type Settlement struct {
	Status   TransactionStatus
	Channel  string
	Currency string
	PaidAt   *time.Time
}

type Permission string

const (
	PermissionDeposit  Permission = "deposit"
	PermissionTransfer Permission = "transfer"
	PermissionRead     Permission = "read"
)

var AllPermissions = []Permission{PermissionDeposit, PermissionTransfer, PermissionRead}

func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// APIKey stores only the hash of the raw secret.
type APIKey struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	KeyHash     string       `json:"-"`
	KeyPrefix   string       `json:"key_prefix"`
	Permissions []Permission `json:"permissions"`
	ExpiresAt   time.Time    `json:"expires_at"`
	Revoked     bool         `json:"revoked"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Active reports whether the key can still authenticate at now.
func (k APIKey) Active(now time.Time) bool {
	return !k.Revoked && k.ExpiresAt.After(now)
}
