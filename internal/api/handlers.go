package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/models"
	"github.com/punchamoorthee/walletops/internal/money"
	"github.com/punchamoorthee/walletops/internal/paystack"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/validation"
)

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
		"uptime":  h.clock.Now().Sub(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	wallet, err := h.wallets.Balance(r.Context(), p.UserID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.BalanceResponse{
		Balance:      money.FromMinor(wallet.Balance),
		WalletNumber: wallet.WalletNumber,
		Currency:     wallet.Currency,
	})
}

func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	var req models.DepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", "Malformed JSON body")
		return
	}
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	checkout, err := h.deposits.InitiateDeposit(r.Context(), p.UserID, amount)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.DepositResponse{
		Reference:        checkout.Reference,
		AuthorizationURL: checkout.AuthorizationURL,
	})
}

func (h *Handler) DepositStatusHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	t, err := h.deposits.DepositStatus(r.Context(), p.UserID, mux.Vars(r)["reference"])
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.DepositStatusResponse{
		Reference: t.Reference,
		Status:    string(t.Status),
		Amount:    money.FromMinor(t.Amount),
	})
}

// PaystackWebhookHandler acknowledges every authentic delivery with 200 so
// the provider stops retrying; only a bad signature is refused.
func (h *Handler) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", "Unreadable request body")
		return
	}

	err = h.deposits.HandleWebhook(r.Context(), body, r.Header.Get(paystack.HeaderSignature))
	if errors.Is(err, domain.ErrInvalidSignature) {
		respondWithError(w, http.StatusUnauthorized, "InvalidSignature", "Invalid signature")
		return
	}
	if err != nil {
		logger.WithError(err).Error("webhook acknowledged after processing error")
	}
	respondWithJSON(w, http.StatusOK, models.WebhookAck{Status: true})
}

func (h *Handler) TransferHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	// 1. Decode and Validate
	var req models.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", "Malformed JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}
	amount, err := money.ToMinor(req.Amount)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	// 2. Call Service
	res, err := h.transfers.Transfer(r.Context(), service.TransferInput{
		SenderUserID:          p.UserID,
		RecipientWalletNumber: req.WalletNumber,
		Amount:                amount,
	})
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, models.StatusResponse{
		Status:    "success",
		Message:   "Transfer completed",
		Reference: res.Reference,
	})
}

func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	txs, err := h.wallets.History(r.Context(), p.UserID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	out := make([]models.TransactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, models.TransactionView{
			Type:      string(t.Type),
			Amount:    money.FromMinor(t.Amount),
			Status:    string(t.Status),
			Reference: t.Reference,
			Direction: string(t.Direction),
			CreatedAt: t.CreatedAt,
		})
	}
	respondWithJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateKeyHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	var req models.CreateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", "Malformed JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}

	issued, err := h.keys.Create(r.Context(), p.UserID, req.Name, req.Permissions, req.Expiry)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.APIKeyResponse{APIKey: issued.RawKey, ExpiresAt: issued.Key.ExpiresAt})
}

func (h *Handler) RevokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	var req models.RevokeKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", "Malformed JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}

	if err := h.keys.Revoke(r.Context(), p.UserID, req.KeyID); err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.StatusResponse{Status: "success", Message: "API key revoked successfully"})
}

func (h *Handler) RolloverKeyHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	var req models.RolloverKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", "Malformed JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}

	issued, err := h.keys.Rollover(r.Context(), p.UserID, req.ExpiredKeyID, req.Expiry)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, models.APIKeyResponse{APIKey: issued.RawKey, ExpiresAt: issued.Key.ExpiresAt})
}

func (h *Handler) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	keys, err := h.keys.List(r.Context(), p.UserID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	now := h.keys.Now()
	out := make([]models.KeyView, 0, len(keys))
	for _, k := range keys {
		perms := make([]string, 0, len(k.Permissions))
		for _, perm := range k.Permissions {
			perms = append(perms, string(perm))
		}
		out = append(out, models.KeyView{
			ID:          k.ID,
			Name:        k.Name,
			KeyPrefix:   k.KeyPrefix,
			Permissions: perms,
			ExpiresAt:   k.ExpiresAt,
			Revoked:     k.Revoked,
			Active:      k.Active(now),
		})
	}
	respondWithJSON(w, http.StatusOK, out)
}
