package resume

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

type SlotResumer interface {
	ResumeSlot(ctx context.Context, slotID string) error
}

func New(log *slog.Logger, resumer SlotResumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.resume.New"

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

		err := resumer.ResumeSlot(r.Context(), id)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("slot not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "slot not found"))
			return
		}

		if errors.Is(err, response.ErrInvalidTransition) {
			log.Error("only paused slots can be resumed")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.INVALID_TRANSITION), "only paused slots can be resumed"))
			return
		}

		if err != nil {
			log.Error("Failed to resume slot", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to resume slot"))
			return
		}

		log.Info("Slot resumed", slog.String("slot_id", id))

		render.JSON(w, r, response.Response{})
	}
}
