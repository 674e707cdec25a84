package transactions

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"mentorme-service/api"
	"mentorme-service/pkg/response"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type TransactionLister interface {
	ListTransactions(ctx context.Context, ownerID string, cursor *string, limit int) (*api.TransactionsPage, error)
}

type Response struct {
	response.Response
	api.TransactionsPage
}

func New(log *slog.Logger, lister TransactionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.wallet.transactions.New"

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

		var cursor *string
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			cursor = &raw
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				log.Error("Invalid limit parameter", sl.Err(err))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "limit must be a number"))
				return
			}
			limit = n
		}

		page, err := lister.ListTransactions(r.Context(), ownerID, cursor, limit)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("wallet not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "wallet not found"))
			return
		}

		if err != nil {
			log.Error("Failed to list transactions", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list transactions"))
			return
		}

		log.Info("Transactions listed",
			slog.String("owner_id", ownerID),
			slog.Int("count", len(page.Transactions)),
		)

		render.JSON(w, r, Response{
			TransactionsPage: *page,
		})
	}
}
