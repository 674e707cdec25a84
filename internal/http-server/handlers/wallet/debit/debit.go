package debit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"mentorme-service/api"
	"mentorme-service/pkg/response"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type WalletDebitor interface {
	Debit(ctx context.Context, req *api.DebitRequest) (*api.WalletOpResponse, error)
}

type Request struct {
	api.DebitRequest
}

type Response struct {
	response.Response
	Result api.WalletOpResponse `json:"result,omitempty"`
}

func New(log *slog.Logger, debitor WalletDebitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wallet.debit.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		log.Info("Request body decoded", slog.Any("request", req))

		result, err := debitor.Debit(r.Context(), &req.DebitRequest)

		if errors.Is(err, response.ErrValidation) {
			log.Error("Debit validation failed", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_FAILED), err.Error()))
			return
		}

		if errors.Is(err, response.ErrInsufficientFunds) {
			log.Error("insufficient funds", slog.String("owner_id", req.OwnerID))
			w.WriteHeader(http.StatusPaymentRequired)
			render.JSON(w, r, response.Error(string(response.INSUFFICIENT_FUNDS), "insufficient funds"))
			return
		}

		if errors.Is(err, response.ErrNotFound) {
			log.Error("wallet not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "wallet not found"))
			return
		}

		if err != nil {
			log.Error("Failed to debit wallet", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to debit wallet"))
			return
		}

		log.Info("Wallet debited",
			slog.String("owner_id", req.OwnerID),
			slog.Bool("idempotent", result.Idempotent),
		)

		if !result.Idempotent {
			w.WriteHeader(http.StatusCreated)
		}
		responseOK(w, r, result)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, result *api.WalletOpResponse) {
	render.JSON(w, r, Response{
		Result: *result,
	})
}
