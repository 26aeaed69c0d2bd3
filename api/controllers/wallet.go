package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mycomarket/mycomarket-backend/api/middleware"
	"github.com/mycomarket/mycomarket-backend/api/responses"
	"github.com/mycomarket/mycomarket-backend/api/validators"
	"github.com/mycomarket/mycomarket-backend/internal/wallet"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
	"github.com/mycomarket/mycomarket-backend/pkg/logger"
)

type withdrawalRequest struct {
	AmountCents int64           `json:"amount_cents" validate:"required,gt=0"`
	BankDetails json.RawMessage `json:"bank_details" validate:"required"`
}

type resolveWithdrawalRequest struct {
	Outcome string  `json:"outcome" validate:"required,oneof=completed rejected"`
	Note    *string `json:"note" validate:"omitempty,max=500"`
}

// WalletSummary returns the producer's balances.
func WalletSummary(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := svc.Summary(r.Context(), middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// RequestWithdrawal debits the producer's available balance and opens a
// pending withdrawal for admin review.
func RequestWithdrawal(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req withdrawalRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.RequestWithdrawal(r.Context(), wallet.WithdrawalRequest{
			ProducerID:  middleware.ActorIDFromContext(r.Context()),
			AmountCents: req.AmountCents,
			BankDetails: req.BankDetails,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

// ListWithdrawals returns withdrawals in the given status, pending by default.
func ListWithdrawals(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := enums.WithdrawalStatusPending
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseWithdrawalStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = parsed
		}

		rows, err := svc.ListWithdrawals(r.Context(), status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// ResolveWithdrawal records the admin decision on a pending withdrawal.
func ResolveWithdrawal(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withdrawalID, err := uuidURLParam(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveWithdrawalRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := enums.ParseWithdrawalStatus(req.Outcome)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outcome"))
			return
		}

		err = svc.ResolveWithdrawal(r.Context(), wallet.WithdrawalResolution{
			WithdrawalID: withdrawalID,
			Outcome:      outcome,
			Note:         req.Note,
			ActorID:      middleware.ActorIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": outcome.String()})
	}
}
