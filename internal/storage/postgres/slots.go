package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mentorme-service/internal/models"
	"mentorme-service/pkg/response"
)

func (s *Storage) CreateSlot(ctx context.Context, slot *models.AvailabilitySlot) (string, error) {
	const op = "storage.postgres.CreateSlot"

	id := uuid.New().String()

	exdates := make([]string, 0, len(slot.ExDates))
	for _, t := range slot.ExDates {
		exdates = append(exdates, t.UTC().Format(time.RFC3339))
	}

	var rrule sql.NullString
	if slot.RRule != nil {
		rrule = sql.NullString{String: *slot.RRule, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO availability_slots
		(id, mentor_id, title, timezone, start_at, end_at, rrule, exdates,
		 buffer_before_min, buffer_after_min, visibility, status, horizon_days, price_minor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, slot.MentorID, slot.Title, slot.Timezone, slot.StartAt, slot.EndAt,
		rrule, pq.StringArray(exdates),
		slot.BufferBeforeMin, slot.BufferAfterMin,
		string(slot.Visibility), string(slot.Status), slot.HorizonDays, slot.PriceMinor,
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	const op = "storage.postgres.GetSlot"

	var (
		slot    models.AvailabilitySlot
		startAt sql.NullTime
		endAt   sql.NullTime
		rrule   sql.NullString
		exdates pq.StringArray
		status  string
		vis     string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, mentor_id, title, timezone, start_at, end_at, rrule, exdates,
		       buffer_before_min, buffer_after_min, visibility, status, horizon_days, price_minor, created_at
		FROM availability_slots WHERE id=$1`, id).
		Scan(
			&slot.ID, &slot.MentorID, &slot.Title, &slot.Timezone,
			&startAt, &endAt, &rrule, &exdates,
			&slot.BufferBeforeMin, &slot.BufferAfterMin,
			&vis, &status, &slot.HorizonDays, &slot.PriceMinor, &slot.CreatedAt,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if startAt.Valid {
		t := startAt.Time.UTC()
		slot.StartAt = &t
	}
	if endAt.Valid {
		t := endAt.Time.UTC()
		slot.EndAt = &t
	}
	if rrule.Valid {
		slot.RRule = &rrule.String
	}
	for _, raw := range exdates {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: bad exdate %q: %w", op, raw, err)
		}
		slot.ExDates = append(slot.ExDates, t)
	}
	slot.Visibility = models.SlotVisibility(vis)
	slot.Status = models.SlotStatus(status)

	return &slot, nil
}

func (s *Storage) UpdateSlotStatus(ctx context.Context, id string, from, to models.SlotStatus) error {
	const op = "storage.postgres.UpdateSlotStatus"

	res, err := s.db.ExecContext(ctx,
		`UPDATE availability_slots SET status=$3 WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM availability_slots WHERE id=$1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !exists {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, response.ErrInvalidTransition)
	}

	return nil
}

func (s *Storage) GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error) {
	const op = "storage.postgres.GetOccurrence"

	occ, err := scanOccurrence(s.db.QueryRowContext(ctx, `
		SELECT id, slot_id, mentor_id, start_at, end_at, buffer_before_min, buffer_after_min, status
		FROM occurrences WHERE id=$1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return occ, nil
}

func (s *Storage) ListOccurrencesByMentor(ctx context.Context, mentorID string, from, to *time.Time) ([]*models.Occurrence, error) {
	const op = "storage.postgres.ListOccurrencesByMentor"

	query := `
		SELECT id, slot_id, mentor_id, start_at, end_at, buffer_before_min, buffer_after_min, status
		FROM occurrences WHERE mentor_id=$1`
	args := []any{mentorID}

	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND start_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND start_at <= $%d", len(args))
	}
	query += " ORDER BY start_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, occ)
	}

	return out, rows.Err()
}

func (s *Storage) CountBlockingOccurrences(ctx context.Context, slotID string) (int, error) {
	const op = "storage.postgres.CountBlockingOccurrences"

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM occurrences WHERE slot_id=$1 AND status IN ('reserved', 'booked')`,
		slotID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOccurrence(row rowScanner) (*models.Occurrence, error) {
	var (
		occ    models.Occurrence
		status string
	)
	err := row.Scan(
		&occ.ID, &occ.SlotID, &occ.MentorID, &occ.StartAt, &occ.EndAt,
		&occ.BufferBeforeMin, &occ.BufferAfterMin, &status,
	)
	if err != nil {
		return nil, err
	}

	occ.StartAt = occ.StartAt.UTC()
	occ.EndAt = occ.EndAt.UTC()
	occ.Status = models.OccurrenceStatus(status)

	return &occ, nil
}

// #### transaction-scoped ####

func (t *txStore) CreateOccurrence(ctx context.Context, occ *models.Occurrence) (string, error) {
	const op = "storage.postgres.CreateOccurrence"

	id := uuid.New().String()

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO occurrences
		(id, slot_id, mentor_id, start_at, end_at, buffer_before_min, buffer_after_min, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, occ.SlotID, occ.MentorID, occ.StartAt, occ.EndAt,
		occ.BufferBeforeMin, occ.BufferAfterMin, string(occ.Status),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return "", fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (t *txStore) GetOccurrenceForUpdate(ctx context.Context, id string) (*models.Occurrence, error) {
	const op = "storage.postgres.GetOccurrenceForUpdate"

	occ, err := scanOccurrence(t.tx.QueryRowContext(ctx, `
		SELECT id, slot_id, mentor_id, start_at, end_at, buffer_before_min, buffer_after_min, status
		FROM occurrences WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return occ, nil
}

func (t *txStore) UpdateOccurrenceStatus(ctx context.Context, id string, from, to models.OccurrenceStatus) error {
	const op = "storage.postgres.UpdateOccurrenceStatus"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE occurrences SET status=$3 WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrConflict)
	}

	return nil
}

func (t *txStore) CancelOpenOccurrencesBySlot(ctx context.Context, slotID string) (int64, error) {
	const op = "storage.postgres.CancelOpenOccurrencesBySlot"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE occurrences SET status='cancelled' WHERE slot_id=$1 AND status='open'`, slotID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (t *txStore) UpdateSlotStatus(ctx context.Context, slotID string, to models.SlotStatus) error {
	const op = "storage.postgres.TxUpdateSlotStatus"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE availability_slots SET status=$2 WHERE id=$1`, slotID, string(to))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}
