package attendance

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

type AttendanceMarker interface {
	MarkAttendance(ctx context.Context, bookingID string, req *api.AttendanceRequest) (*api.BookingResponse, error)
}

type Request struct {
	api.AttendanceRequest
}

type Response struct {
	response.Response
	Booking api.BookingResponse `json:"booking,omitempty"`
}

func New(log *slog.Logger, marker AttendanceMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.attendance.New"

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

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		if req.Side != "mentor" && req.Side != "mentee" {
			log.Error("side must be mentor or mentee", slog.String("side", req.Side))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_FAILED), "side must be mentor or mentee"))
			return
		}

		booking, err := marker.MarkAttendance(r.Context(), id, &req.AttendanceRequest)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("booking not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "booking not found"))
			return
		}

		if errors.Is(err, response.ErrInvalidTransition) {
			log.Error("attendance can only be marked for active sessions")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.INVALID_TRANSITION), "attendance can only be marked for active sessions"))
			return
		}

		if err != nil {
			log.Error("Failed to mark attendance", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to mark attendance"))
			return
		}

		log.Info("Attendance marked", slog.String("booking_id", id), slog.String("side", req.Side))
		responseOK(w, r, booking)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, booking *api.BookingResponse) {
	render.JSON(w, r, Response{
		Booking: *booking,
	})
}
