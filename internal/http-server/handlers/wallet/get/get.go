package get

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"mentorme-service/api"
	"mentorme-service/pkg/response"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type WalletGetter interface {
	GetWallet(ctx context.Context, ownerID string) (*api.WalletResponse, error)
}

type Response struct {
	response.Response
	Wallet api.WalletResponse `json:"wallet,omitempty"`
}

func New(log *slog.Logger, getter WalletGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wallet.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		ownerID := chi.URLParam(r, "ownerID")
		if ownerID == "" {
			log.Error("ownerID is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "ownerID is required"))
			return
		}

		wallet, err := getter.GetWallet(r.Context(), ownerID)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("wallet not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "wallet not found"))
			return
		}

		if err != nil {
			log.Error("Failed to get wallet", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get wallet"))
			return
		}

		responseOK(w, r, wallet)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, wallet *api.WalletResponse) {
	render.JSON(w, r, Response{
		Wallet: *wallet,
	})
}
