package pause

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"mentorme-service/pkg/response"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type SlotPauser interface {
	PauseSlot(ctx context.Context, slotID string) error
}

func New(log *slog.Logger, pauser SlotPauser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.pause.New"

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

		err := pauser.PauseSlot(r.Context(), id)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("slot not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "slot not found"))
			return
		}

		if errors.Is(err, response.ErrInvalidTransition) {
			log.Error("only published slots can be paused")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.INVALID_TRANSITION), "only published slots can be paused"))
			return
		}

		if err != nil {
			log.Error("Failed to pause slot", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to pause slot"))
			return
		}

		log.Info("Slot paused", slog.String("slot_id", id))

		render.JSON(w, r, response.Response{})
	}
}
