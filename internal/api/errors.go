package api

import (
	"errors"
	"net/http"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/sirupsen/logrus"
)

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// errorTable maps domain errors to their HTTP status, stable client code and
// client message.
var errorTable = []errorMapping{
	{domain.ErrInvalidAmount, http.StatusUnprocessableEntity, "InvalidAmount", "Amount must be greater than zero with at most two decimal places"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "InsufficientBalance", "Insufficient balance"},
	{domain.ErrInvalidTransfer, http.StatusUnprocessableEntity, "InvalidTransfer", "Cannot transfer to your own wallet"},
	{domain.ErrRecipientNotFound, http.StatusNotFound, "RecipientNotFound", "Recipient wallet not found"},
	{domain.ErrWalletNumberExhausted, http.StatusInternalServerError, "WalletNumberExhausted", "Could not allocate a wallet number, try again"},
	{domain.ErrUserNotFound, http.StatusNotFound, "UserNotFound", "User not found"},
	{domain.ErrTransactionNotFound, http.StatusNotFound, "TransactionNotFound", "Transaction not found"},
	{domain.ErrKeyNotFound, http.StatusNotFound, "KeyNotFound", "API key not found"},
	{domain.ErrKeyAlreadyRevoked, http.StatusConflict, "KeyAlreadyRevoked", "API key is already revoked"},
	{domain.ErrKeyNotExpired, http.StatusConflict, "KeyNotExpired", "API key must be expired or revoked to roll over"},
	{domain.ErrMaxKeysReached, http.StatusConflict, "MaxKeysReached", "Maximum of 5 active API keys reached"},
	{domain.ErrInvalidExpiry, http.StatusBadRequest, "InvalidExpiry", "Expiry must be one of 1H, 1D, 1M, 1Y"},
	{domain.ErrInvalidPermissions, http.StatusBadRequest, "InvalidPermissions", "Permissions must be a non-empty subset of deposit, transfer, read"},
	{domain.ErrInvalidSignature, http.StatusUnauthorized, "InvalidSignature", "Invalid signature"},
	{domain.ErrProviderUnavailable, http.StatusBadGateway, "PaymentInitError", "Failed to initialize deposit with the payment provider"},
}

func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				logger.WithFields(logrus.Fields{"path": r.URL.Path, "code": m.code}).WithError(err).Error("request failed")
			}
			respondWithError(w, m.status, m.code, m.message)
			return
		}
	}

	logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("unexpected error")
	respondWithError(w, http.StatusInternalServerError, "ServerError", "Internal server error")
}
