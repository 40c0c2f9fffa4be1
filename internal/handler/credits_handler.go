package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Credits & Billing
// ============================================================

func balanceHandler(creditSvc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/credits/balance")
		defer span.End()

		accountID := AccountIDFromContext(ctx)
		balance, err := creditSvc.Balance(ctx, accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, balance)
	}
}

func packsHandler(creditSvc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/credits/packs")
		defer span.End()

		writeJSON(w, http.StatusOK, map[string]any{"packs": creditSvc.Packs(ctx)})
	}
}

func transactionsHandler(creditSvc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/credits/transactions")
		defer span.End()

		accountID := AccountIDFromContext(ctx)
		limit := parseLimit(r, 50, 200)
		entries, err := creditSvc.Transactions(ctx, accountID, limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"transactions": entries})
	}
}

func checkoutHandler(billingSvc *service.BillingService, authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/credits/checkout")
		defer span.End()

		var req domain.CheckoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.PackID == "" {
			writeError(w, http.StatusBadRequest, "pack_id is required")
			return
		}
		span.SetAttributes(attribute.String("pack.id", req.PackID))

		// The checkout session is tied to the account's email so the
		// webhook can find the account again.
		acc, err := authSvc.Me(ctx, AccountIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		session, err := billingSvc.CreateCheckout(ctx, acc.Email, req.PackID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, session)
	}
}
