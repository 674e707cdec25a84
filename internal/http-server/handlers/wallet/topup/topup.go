package topup

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

type WalletCreditor interface {
	Credit(ctx context.Context, req *api.TopupRequest) (*api.WalletOpResponse, error)
}

type Request struct {
	api.TopupRequest
}

type Response struct {
	response.Response
	Result api.WalletOpResponse `json:"result,omitempty"`
}

func New(log *slog.Logger, creditor WalletCreditor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wallet.topup.New"

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

		result, err := creditor.Credit(r.Context(), &req.TopupRequest)

		if errors.Is(err, response.ErrValidation) {
			log.Error("Topup validation failed", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_FAILED), err.Error()))
			return
		}

		if err != nil {
			log.Error("Failed to credit wallet", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to credit wallet"))
			return
		}

		log.Info("Wallet credited",
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
