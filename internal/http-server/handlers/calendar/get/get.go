package get

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mentorme-service/api"
	"mentorme-service/pkg/response"
	"mentorme-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type CalendarProvider interface {
	Calendar(ctx context.Context, mentorID string, from, to *time.Time) ([]*api.OccurrenceResponse, error)
}

type Response struct {
	response.Response
	Occurrences []*api.OccurrenceResponse `json:"occurrences"`
}

func New(log *slog.Logger, provider CalendarProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.calendar.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		mentorID := chi.URLParam(r, "mentorID")
		if mentorID == "" {
			log.Error("mentorID is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "mentorID is required"))
			return
		}

		from, err := parseTimeParam(r, "from")
		if err != nil {
			log.Error("Invalid from parameter", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from must be RFC3339"))
			return
		}

		to, err := parseTimeParam(r, "to")
		if err != nil {
			log.Error("Invalid to parameter", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "to must be RFC3339"))
			return
		}

		occurrences, err := provider.Calendar(r.Context(), mentorID, from, to)
		if err != nil {
			log.Error("Failed to load calendar", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to load calendar"))
			return
		}

		log.Info("Calendar loaded",
			slog.String("mentor_id", mentorID),
			slog.Int("occurrences", len(occurrences)),
		)

		render.JSON(w, r, Response{
			Occurrences: occurrences,
		})
	}
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
