package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mentorme-service/internal/models"
	"mentorme-service/internal/notify"
	"mentorme-service/pkg/sl"
)

// Time-based transitions live here and are invoked only by the scheduler
// tick, never by request-path code. Their precision is therefore bounded by
// one tick interval.

// ExpireStalePayments fails payment_pending bookings older than the payment
// window and releases their occurrences.
func (s *Service) ExpireStalePayments(ctx context.Context) (int, error) {
	const op = "service.ExpireStalePayments"

	cutoff := s.now().Add(-s.policy.PaymentWindow)
	stale, err := s.store.ListPaymentPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	processed := 0
	for _, b := range stale {
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			booking, err := tx.GetBookingForUpdate(ctx, b.ID)
			if err != nil {
				return err
			}
			if booking.Status != models.BookingPaymentPending {
				return nil // already advanced by another path
			}
			return s.terminateBooking(ctx, tx, booking, models.BookingFailed, true)
		})
		if err != nil {
			s.log.Error("failed to expire stale payment",
				slog.String("booking_id", b.ID), sl.Err(err))
			continue
		}

		processed++
		s.emit(ctx, notify.Event{
			Type:      "booking.expired",
			BookingID: b.ID,
			MentorID:  b.MentorID,
			MenteeID:  b.MenteeID,
		})
	}

	return processed, nil
}

// AutoDeclineOverdue declines pending bookings the mentor ignored past the
// decision window, refunding any debit taken at creation.
func (s *Service) AutoDeclineOverdue(ctx context.Context) (int, error) {
	const op = "service.AutoDeclineOverdue"

	cutoff := s.now().Add(-s.policy.DecisionWindow)
	overdue, err := s.store.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	processed := 0
	for _, b := range overdue {
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			booking, err := tx.GetBookingForUpdate(ctx, b.ID)
			if err != nil {
				return err
			}
			if booking.Status != models.BookingPending {
				return nil
			}
			return s.terminateBooking(ctx, tx, booking, models.BookingDeclined, true)
		})
		if err != nil {
			s.log.Error("failed to auto-decline booking",
				slog.String("booking_id", b.ID), sl.Err(err))
			continue
		}

		processed++
		s.emit(ctx, notify.Event{
			Type:      "booking.auto_declined",
			BookingID: b.ID,
			MentorID:  b.MentorID,
			MenteeID:  b.MenteeID,
		})
	}

	return processed, nil
}

// StartDueSessions flips confirmed bookings whose start time has arrived into
// in_progress. Informational only; the occurrence does not change.
func (s *Service) StartDueSessions(ctx context.Context) (int, error) {
	const op = "service.StartDueSessions"

	due, err := s.store.ListConfirmedDueToStart(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	processed := 0
	for _, b := range due {
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			booking, err := tx.GetBookingForUpdate(ctx, b.ID)
			if err != nil {
				return err
			}
			if booking.Status != models.BookingConfirmed {
				return nil
			}
			return tx.UpdateBookingStatus(ctx, b.ID, models.BookingInProgress)
		})
		if err != nil {
			s.log.Error("failed to start session",
				slog.String("booking_id", b.ID), sl.Err(err))
			continue
		}
		processed++
	}

	return processed, nil
}

// SendReminders delivers the 24h and 1h reminders. The reminded flags flip
// false to true at most once: the flag is a compare-and-set, so however many
// ticks observe the booking inside the window, only one wins.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	const op = "service.SendReminders"

	sent := 0

	for _, r := range []struct {
		flag   ReminderFlag
		within time.Duration
		event  string
	}{
		{Reminder24h, 24 * time.Hour, "booking.reminder_24h"},
		{Reminder1h, time.Hour, "booking.reminder_1h"},
	} {
		due, err := s.store.ListRemindersDue(ctx, s.now(), r.within, r.flag)
		if err != nil {
			return sent, fmt.Errorf("%s: %w", op, err)
		}

		for _, b := range due {
			won, err := s.store.MarkReminded(ctx, b.ID, r.flag)
			if err != nil {
				s.log.Error("failed to mark reminder",
					slog.String("booking_id", b.ID), sl.Err(err))
				continue
			}
			if !won {
				continue // another tick got there first
			}

			sent++
			s.emit(ctx, notify.Event{
				Type:      r.event,
				BookingID: b.ID,
				MentorID:  b.MentorID,
				MenteeID:  b.MenteeID,
				Payload:   map[string]any{"start": b.StartAt},
			})
		}
	}

	return sent, nil
}

// FinishSessions settles confirmed/in_progress bookings whose end time plus
// grace has passed: completed when either side marked attendance, no_show
// otherwise. The no-show payload names every side that stayed silent.
func (s *Service) FinishSessions(ctx context.Context) (int, error) {
	const op = "service.FinishSessions"

	cutoff := s.now().Add(-s.policy.NoShowGrace)
	finished, err := s.store.ListSessionsToFinish(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	processed := 0
	for _, b := range finished {
		attended := boolVal(b.MentorAttended) || boolVal(b.MenteeAttended)

		var event notify.Event
		err := s.store.WithinTx(ctx, func(tx Tx) error {
			booking, err := tx.GetBookingForUpdate(ctx, b.ID)
			if err != nil {
				return err
			}
			if booking.Status != models.BookingConfirmed && booking.Status != models.BookingInProgress {
				return nil
			}

			if attended {
				// Occurrence stays booked as history; review window opens.
				if err := tx.UpdateBookingStatus(ctx, b.ID, models.BookingCompleted); err != nil {
					return err
				}
				event = notify.Event{
					Type:      "booking.completed",
					BookingID: b.ID,
					MentorID:  b.MentorID,
					MenteeID:  b.MenteeID,
				}
				return nil
			}

			if err := tx.UpdateBookingStatus(ctx, b.ID, models.BookingNoShow); err != nil {
				return err
			}
			event = notify.Event{
				Type:      "booking.no_show",
				BookingID: b.ID,
				MentorID:  b.MentorID,
				MenteeID:  b.MenteeID,
				Payload:   map[string]any{"absent": absentSides(b)},
			}
			return nil
		})
		if err != nil {
			s.log.Error("failed to finish session",
				slog.String("booking_id", b.ID), sl.Err(err))
			continue
		}

		if event.Type != "" {
			processed++
			s.emit(ctx, event)
		}
	}

	return processed, nil
}

func absentSides(b *models.Booking) []string {
	var absent []string
	if !boolVal(b.MentorAttended) {
		absent = append(absent, "mentor")
	}
	if !boolVal(b.MenteeAttended) {
		absent = append(absent, "mentee")
	}
	return absent
}

func boolVal(p *bool) bool {
	return p != nil && *p
}
