package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"mentorme-service/api"
	"mentorme-service/pkg/response"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type SlotPublisher interface {
	Publish(ctx context.Context, slotID string, req *api.PublishRequest) (*api.PublishResponse, []api.ConflictInfo, error)
}

type Request struct {
	api.PublishRequest
}

type Response struct {
	response.Response
	Result    api.PublishResponse `json:"result,omitempty"`
	Conflicts []api.ConflictInfo  `json:"conflicts,omitempty"`
}

func New(log *slog.Logger, publisher SlotPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.publish.New"

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

		// the body is optional, publish with defaults when it is absent
		var req Request
		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		result, conflicts, err := publisher.Publish(r.Context(), id, &req.PublishRequest)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("slot not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "slot not found"))
			return
		}

		if errors.Is(err, response.ErrLocked) {
			log.Error("mentor calendar is locked")
			w.WriteHeader(http.StatusLocked)
			render.JSON(w, r, response.Error(string(response.LOCKED), "resource is locked"))
			return
		}

		if errors.Is(err, response.ErrConflict) {
			log.Error("publish rejected due to conflicts", slog.Int("conflicts", len(conflicts)))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, Response{
				Response:  response.Error(string(response.CONFLICT), "publish conflicts with existing occurrences"),
				Conflicts: conflicts,
			})
			return
		}

		if errors.Is(err, response.ErrInvalidTransition) {
			log.Error("slot cannot be published from its current status")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.INVALID_TRANSITION), "slot cannot be published"))
			return
		}

		if err != nil {
			log.Error("Failed to publish slot", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to publish slot"))
			return
		}

		log.Info("Slot published",
			slog.String("slot_id", id),
			slog.Int("occurrences_created", result.OccurrencesCreated),
			slog.Int("skipped_conflict", result.SkippedConflict),
		)

		responseOK(w, r, result)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, result *api.PublishResponse) {
	render.JSON(w, r, Response{
		Result: *result,
	})
}
