package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mentorme-service/internal/models"
	"mentorme-service/internal/service"
	"mentorme-service/pkg/response"
)

const bookingColumns = `
	id, occurrence_id, mentor_id, mentee_id, status, start_at, end_at,
	price_minor, debit_tx_id, refund_attempts, reminded_24h, reminded_1h,
	mentor_attended, mentee_attended, rating, review, created_at`

func (s *Storage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "storage.postgres.GetBooking"

	b, err := scanBooking(s.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Storage) ListPaymentPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListPaymentPendingBefore"

	return s.listBookings(ctx, op,
		`SELECT `+bookingColumns+` FROM bookings WHERE status='payment_pending' AND created_at < $1 ORDER BY created_at`,
		cutoff)
}

func (s *Storage) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListPendingBefore"

	return s.listBookings(ctx, op,
		`SELECT `+bookingColumns+` FROM bookings WHERE status='pending' AND created_at < $1 ORDER BY created_at`,
		cutoff)
}

func (s *Storage) ListConfirmedDueToStart(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListConfirmedDueToStart"

	return s.listBookings(ctx, op,
		`SELECT `+bookingColumns+` FROM bookings WHERE status='confirmed' AND start_at <= $1 ORDER BY start_at`,
		now)
}

func (s *Storage) ListRemindersDue(ctx context.Context, now time.Time, within time.Duration, flag service.ReminderFlag) ([]*models.Booking, error) {
	const op = "storage.postgres.ListRemindersDue"

	col, err := reminderColumn(flag)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status='confirmed' AND ` + col + `=FALSE
		AND start_at > $1 AND start_at <= $2 ORDER BY start_at`

	return s.listBookings(ctx, op, query, now, now.Add(within))
}

func (s *Storage) ListSessionsToFinish(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListSessionsToFinish"

	return s.listBookings(ctx, op,
		`SELECT `+bookingColumns+` FROM bookings WHERE status IN ('confirmed', 'in_progress') AND end_at <= $1 ORDER BY end_at`,
		cutoff)
}

func (s *Storage) MarkReminded(ctx context.Context, bookingID string, flag service.ReminderFlag) (bool, error) {
	const op = "storage.postgres.MarkReminded"

	col, err := reminderColumn(flag)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET `+col+`=TRUE WHERE id=$1 AND `+col+`=FALSE`, bookingID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

func reminderColumn(flag service.ReminderFlag) (string, error) {
	switch flag {
	case service.Reminder24h:
		return "reminded_24h", nil
	case service.Reminder1h:
		return "reminded_1h", nil
	default:
		return "", fmt.Errorf("unknown reminder flag %q", flag)
	}
}

func (s *Storage) SetAttendance(ctx context.Context, bookingID string, side service.AttendanceSide) error {
	const op = "storage.postgres.SetAttendance"

	var col string
	switch side {
	case service.SideMentor:
		col = "mentor_attended"
	case service.SideMentee:
		col = "mentee_attended"
	default:
		return fmt.Errorf("%s: unknown side %q", op, side)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET `+col+`=TRUE WHERE id=$1`, bookingID)
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

func (s *Storage) SetReview(ctx context.Context, bookingID string, rating int, review *string) error {
	const op = "storage.postgres.SetReview"

	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET rating=$2, review=$3 WHERE id=$1`, bookingID, rating, review)
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

func (s *Storage) listBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, b)
	}

	return out, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b         models.Booking
		status    string
		debitTxID sql.NullString
		rating    sql.NullInt64
		review    sql.NullString
		mentorAtt sql.NullBool
		menteeAtt sql.NullBool
	)

	err := row.Scan(
		&b.ID, &b.OccurrenceID, &b.MentorID, &b.MenteeID, &status,
		&b.StartAt, &b.EndAt, &b.PriceMinor, &debitTxID, &b.RefundAttempts,
		&b.Reminded24h, &b.Reminded1h, &mentorAtt, &menteeAtt,
		&rating, &review, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingStatus(status)
	b.StartAt = b.StartAt.UTC()
	b.EndAt = b.EndAt.UTC()
	if debitTxID.Valid {
		b.DebitTxID = &debitTxID.String
	}
	if rating.Valid {
		r := int(rating.Int64)
		b.Rating = &r
	}
	if review.Valid {
		b.Review = &review.String
	}
	if mentorAtt.Valid {
		b.MentorAttended = &mentorAtt.Bool
	}
	if menteeAtt.Valid {
		b.MenteeAttended = &menteeAtt.Bool
	}

	return &b, nil
}

// #### transaction-scoped ####

func (t *txStore) CreateBooking(ctx context.Context, booking *models.Booking) (string, error) {
	const op = "storage.postgres.CreateBooking"

	id := uuid.New().String()

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO bookings
		(id, occurrence_id, mentor_id, mentee_id, status, start_at, end_at, price_minor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, booking.OccurrenceID, booking.MentorID, booking.MenteeID,
		string(booking.Status), booking.StartAt, booking.EndAt, booking.PriceMinor,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" {
				return "", fmt.Errorf("%s: %w", op, response.ErrDuplicateBooking)
			}
			if pqErr.Code == "23503" {
				return "", fmt.Errorf("%s: %w", op, response.ErrNotFound)
			}
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (t *txStore) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	const op = "storage.postgres.GetBookingForUpdate"

	b, err := scanBooking(t.tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (t *txStore) UpdateBookingStatus(ctx context.Context, id string, to models.BookingStatus) error {
	const op = "storage.postgres.UpdateBookingStatus"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET status=$2 WHERE id=$1`, id, string(to))
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

func (t *txStore) SetBookingDebit(ctx context.Context, id string, txID string) error {
	const op = "storage.postgres.SetBookingDebit"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET debit_tx_id=$2 WHERE id=$1`, id, txID)
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

func (t *txStore) IncRefundAttempts(ctx context.Context, id string) (int, error) {
	const op = "storage.postgres.IncRefundAttempts"

	var attempts int
	err := t.tx.QueryRowContext(ctx,
		`UPDATE bookings SET refund_attempts=refund_attempts+1 WHERE id=$1 RETURNING refund_attempts`,
		id).Scan(&attempts)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return attempts, nil
}
