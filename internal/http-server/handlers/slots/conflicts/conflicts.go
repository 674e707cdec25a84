package conflicts

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

type ConflictChecker interface {
	CheckConflicts(ctx context.Context, slotID string) ([]api.ConflictInfo, error)
}

type Response struct {
	response.Response
	Conflicts []api.ConflictInfo `json:"conflicts"`
}

func New(log *slog.Logger, checker ConflictChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.conflicts.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")
		if id == "" {
			log.Error("id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "id is required"))
			return
		}

		conflicts, err := checker.CheckConflicts(r.Context(), id)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("slot not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "slot not found"))
			return
		}

		if err != nil {
			log.Error("Failed to check conflicts", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to check conflicts"))
			return
		}

		log.Info("Conflicts checked", slog.String("slot_id", id), slog.Int("conflicts", len(conflicts)))

		render.JSON(w, r, Response{
			Conflicts: conflicts,
		})
	}
}
