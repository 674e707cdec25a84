package create

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

type SlotCreator interface {
	CreateSlot(ctx context.Context, req *api.SlotCreateRequest) (*api.SlotResponse, error)
}

type Request struct {
	api.SlotCreateRequest
}

type Response struct {
	response.Response
	Slot api.SlotResponse `json:"slot,omitempty"`
}

func New(log *slog.Logger, creator SlotCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.create.New"

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

		slot, err := creator.CreateSlot(r.Context(), &req.SlotCreateRequest)

		if errors.Is(err, response.ErrValidation) {
			log.Error("Slot validation failed", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_FAILED), err.Error()))
			return
		}

		if err != nil {
			log.Error("Failed to create slot", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to create slot"))
			return
		}

		log.Info("Slot created", slog.String("slot_id", slot.ID))

		w.WriteHeader(http.StatusCreated)
		responseOK(w, r, slot)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, slot *api.SlotResponse) {
	render.JSON(w, r, Response{
		Slot: *slot,
	})
}
