package service

import (
	"context"
	"fmt"
	"time"

	"mentorme-service/api"
	"mentorme-service/internal/models"
	"mentorme-service/internal/notify"
	"mentorme-service/pkg/response"
)

const (
	occurrenceLockTTL  = 10 * time.Second
	occurrenceLockWait = 2 * time.Second
)

// CreateBooking reserves an open occurrence for a mentee. When the slot has a
// price, the wallet debit happens in the same transaction as the booking row
// and the occurrence flip, so a crash cannot leave one without the others.
// InsufficientFunds rolls everything back and the occurrence stays open.
func (s *Service) CreateBooking(ctx context.Context, req *api.BookingRequest) (*api.BookingResponse, error) {
	const op = "service.CreateBooking"

	if req.OccurrenceID == "" {
		return nil, fmt.Errorf("%s: occurrence_id: %w", op, response.ErrValidation)
	}
	if req.MenteeID == "" {
		return nil, fmt.Errorf("%s: mentee_id: %w", op, response.ErrValidation)
	}

	lockKey := fmt.Sprintf("occurrence:%s", req.OccurrenceID)
	locked, err := s.locker.LockWait(ctx, lockKey, occurrenceLockTTL, occurrenceLockWait)
	if err != nil {
		return nil, fmt.Errorf("%s: lock error: %w", op, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", op, response.ErrLocked)
	}
	defer func() {
		_ = s.locker.Unlock(ctx, lockKey)
	}()

	var bookingID string
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		occ, err := tx.GetOccurrenceForUpdate(ctx, req.OccurrenceID)
		if err != nil {
			return err
		}
		if occ.Status != models.OccurrenceOpen {
			return response.ErrSlotNotAvailable
		}

		slot, err := s.store.GetSlot(ctx, occ.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot.Status != models.SlotPublished {
			return response.ErrSlotNotAvailable
		}

		status := models.BookingPending
		if slot.PriceMinor > 0 {
			status = models.BookingPaymentPending
		}

		booking := &models.Booking{
			OccurrenceID: occ.ID,
			MentorID:     occ.MentorID,
			MenteeID:     req.MenteeID,
			Status:       status,
			StartAt:      occ.StartAt,
			EndAt:        occ.EndAt,
			PriceMinor:   slot.PriceMinor,
		}

		bookingID, err = tx.CreateBooking(ctx, booking)
		if err != nil {
			return fmt.Errorf("create booking: %w", err)
		}

		if err := tx.UpdateOccurrenceStatus(ctx, occ.ID, models.OccurrenceOpen, models.OccurrenceReserved); err != nil {
			return fmt.Errorf("reserve occurrence: %w", err)
		}

		if slot.PriceMinor > 0 {
			requestID := fmt.Sprintf("booking:%s", bookingID)
			refType := "booking"
			wtx, _, err := s.applyWalletOp(ctx, tx, walletOp{
				Type:            models.TxDebit,
				OwnerID:         req.MenteeID,
				AmountMinor:     slot.PriceMinor,
				Source:          models.SourceBookingPayment,
				ClientRequestID: requestID,
				ReferenceType:   &refType,
				ReferenceID:     &bookingID,
			})
			if err != nil {
				return err
			}
			if err := tx.SetBookingDebit(ctx, bookingID, wtx.ID); err != nil {
				return fmt.Errorf("record debit: %w", err)
			}
			if err := tx.UpdateBookingStatus(ctx, bookingID, models.BookingPending); err != nil {
				return fmt.Errorf("advance to pending: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.emit(ctx, notify.Event{
		Type:      "booking.created",
		BookingID: booking.ID,
		MentorID:  booking.MentorID,
		MenteeID:  booking.MenteeID,
		Payload:   map[string]any{"start": booking.Start, "end": booking.End},
	})

	return booking, nil
}

func (s *Service) GetBooking(ctx context.Context, id string) (*api.BookingResponse, error) {
	const op = "service.GetBooking"

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bookingToResponse(booking), nil
}

func bookingToResponse(b *models.Booking) *api.BookingResponse {
	return &api.BookingResponse{
		ID:           b.ID,
		OccurrenceID: b.OccurrenceID,
		MentorID:     b.MentorID,
		MenteeID:     b.MenteeID,
		Status:       string(b.Status),
		Start:        b.StartAt,
		End:          b.EndAt,
		PriceMinor:   b.PriceMinor,
		Rating:       b.Rating,
		Review:       b.Review,
		CreatedAt:    b.CreatedAt,
	}
}

// ConfirmBooking is the mentor accepting a pending booking.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID string) (*api.BookingResponse, error) {
	const op = "service.ConfirmBooking"

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		booking, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != models.BookingPending {
			return response.ErrInvalidTransition
		}

		if err := tx.UpdateBookingStatus(ctx, bookingID, models.BookingConfirmed); err != nil {
			return err
		}
		return tx.UpdateOccurrenceStatus(ctx, booking.OccurrenceID, models.OccurrenceReserved, models.OccurrenceBooked)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.emit(ctx, notify.Event{
		Type:      "booking.confirmed",
		BookingID: booking.ID,
		MentorID:  booking.MentorID,
		MenteeID:  booking.MenteeID,
	})

	return booking, nil
}

// DeclineBooking is the mentor rejecting a pending booking. Any debit taken
// at creation time is refunded in the same transaction.
func (s *Service) DeclineBooking(ctx context.Context, bookingID string) (*api.BookingResponse, error) {
	const op = "service.DeclineBooking"

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		booking, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != models.BookingPending {
			return response.ErrInvalidTransition
		}

		return s.terminateBooking(ctx, tx, booking, models.BookingDeclined, true)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.emit(ctx, notify.Event{
		Type:      "booking.declined",
		BookingID: booking.ID,
		MentorID:  booking.MentorID,
		MenteeID:  booking.MenteeID,
	})

	return booking, nil
}

// CancelBooking handles either party cancelling before the session starts.
// Refund policy: full refund outside the cancel cutoff, forfeit inside it.
func (s *Service) CancelBooking(ctx context.Context, bookingID string) (*api.BookingResponse, error) {
	const op = "service.CancelBooking"

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		booking, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != models.BookingPending && booking.Status != models.BookingConfirmed {
			return response.ErrInvalidTransition
		}
		if !s.now().Before(booking.StartAt) {
			return response.ErrInvalidTransition
		}

		refund := s.now().Add(s.policy.CancelCutoff).Before(booking.StartAt) ||
			s.now().Add(s.policy.CancelCutoff).Equal(booking.StartAt)

		return s.terminateBooking(ctx, tx, booking, models.BookingCancelled, refund)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.emit(ctx, notify.Event{
		Type:      "booking.cancelled",
		BookingID: booking.ID,
		MentorID:  booking.MentorID,
		MenteeID:  booking.MenteeID,
	})

	return booking, nil
}

// terminateBooking moves a non-terminal booking into a terminal state,
// releases its occurrence and optionally refunds the original debit.
// Must run inside the caller's transaction.
func (s *Service) terminateBooking(ctx context.Context, tx Tx, booking *models.Booking, to models.BookingStatus, refund bool) error {
	if err := tx.UpdateBookingStatus(ctx, booking.ID, to); err != nil {
		return err
	}

	from := models.OccurrenceReserved
	if booking.Status == models.BookingConfirmed || booking.Status == models.BookingInProgress {
		from = models.OccurrenceBooked
	}
	if err := tx.UpdateOccurrenceStatus(ctx, booking.OccurrenceID, from, models.OccurrenceOpen); err != nil {
		return fmt.Errorf("release occurrence: %w", err)
	}

	if refund {
		if err := s.refundBooking(ctx, tx, booking); err != nil {
			return fmt.Errorf("refund: %w", err)
		}
	}

	return nil
}

// refundBooking reverses the booking's debit, if there was one. The request
// id is derived from the booking id and a per-booking attempt counter, so a
// retried job cannot double-refund: the counter only advances when the whole
// transaction commits, and a committed refund is found by the idempotency
// lookup on replay.
func (s *Service) refundBooking(ctx context.Context, tx Tx, booking *models.Booking) error {
	if booking.DebitTxID == nil || booking.PriceMinor <= 0 {
		return nil
	}

	attempt, err := tx.IncRefundAttempts(ctx, booking.ID)
	if err != nil {
		return err
	}

	refType := "booking"
	_, _, err = s.applyWalletOp(ctx, tx, walletOp{
		Type:            models.TxRefund,
		OwnerID:         booking.MenteeID,
		AmountMinor:     booking.PriceMinor,
		Source:          models.SourceBookingPayment,
		ClientRequestID: fmt.Sprintf("refund:%s:%d", booking.ID, attempt),
		ReferenceType:   &refType,
		ReferenceID:     &booking.ID,
	})
	return err
}

// MarkAttendance records that one side showed up. Feeds the no-show decision
// made by the job tick after the session ends.
func (s *Service) MarkAttendance(ctx context.Context, bookingID string, req *api.AttendanceRequest) (*api.BookingResponse, error) {
	const op = "service.MarkAttendance"

	side := AttendanceSide(req.Side)
	if side != SideMentor && side != SideMentee {
		return nil, fmt.Errorf("%s: invalid side %q: %w", op, req.Side, response.ErrValidation)
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if booking.Status != models.BookingConfirmed && booking.Status != models.BookingInProgress {
		return nil, fmt.Errorf("%s: %w", op, response.ErrInvalidTransition)
	}

	if err := s.store.SetAttendance(ctx, bookingID, side); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetBooking(ctx, bookingID)
}

// SubmitReview attaches a rating to a completed booking.
func (s *Service) SubmitReview(ctx context.Context, bookingID string, req *api.ReviewRequest) (*api.BookingResponse, error) {
	const op = "service.SubmitReview"

	if req.Rating < 1 || req.Rating > 5 {
		return nil, fmt.Errorf("%s: rating out of range: %w", op, response.ErrValidation)
	}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if booking.Status != models.BookingCompleted {
		return nil, fmt.Errorf("%s: review window not open: %w", op, response.ErrInvalidTransition)
	}

	var review *string
	if req.Review != "" {
		review = &req.Review
	}

	if err := s.store.SetReview(ctx, bookingID, req.Rating, review); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetBooking(ctx, bookingID)
}
