package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorme-service/api"
	"mentorme-service/internal/models"
	"mentorme-service/pkg/response"
)

var testNow = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func seedOccurrence(store *fakeStore, priceMinor int64, startAt time.Time) string {
	slot := &models.AvailabilitySlot{
		ID:         "slot-1",
		MentorID:   "mentor-1",
		Title:      "Go mentoring",
		Timezone:   "UTC",
		Status:     models.SlotPublished,
		PriceMinor: priceMinor,
	}
	store.slots[slot.ID] = slot

	occ := &models.Occurrence{
		ID:       "occ-1",
		SlotID:   slot.ID,
		MentorID: slot.MentorID,
		StartAt:  startAt,
		EndAt:    startAt.Add(time.Hour),
		Status:   models.OccurrenceOpen,
	}
	store.occurrences[occ.ID] = occ

	return occ.ID
}

func topup(t *testing.T, svc *Service, ownerID string, amount int64) {
	t.Helper()
	_, err := svc.Credit(context.Background(), &api.TopupRequest{
		OwnerID:         ownerID,
		AmountMinor:     amount,
		ClientRequestID: "topup-" + ownerID,
	})
	require.NoError(t, err)
}

func TestCreateBooking_FreeSlot(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(48*time.Hour))

	booking, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})

	require.NoError(t, err)
	assert.Equal(t, string(models.BookingPending), booking.Status)
	assert.Equal(t, "mentor-1", booking.MentorID)

	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceReserved, occ.Status)
}

func TestCreateBooking_DebitsWallet(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 500_000, testNow.Add(48*time.Hour))
	topup(t, svc, "mentee-1", 600_000)

	booking, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})

	require.NoError(t, err)
	assert.Equal(t, string(models.BookingPending), booking.Status)

	stored, _ := store.GetBooking(context.Background(), booking.ID)
	require.NotNil(t, stored.DebitTxID)

	wallet, err := store.GetWalletByOwner(context.Background(), "mentee-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), wallet.BalanceMinor)

	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceReserved, occ.Status)
}

func TestCreateBooking_InsufficientFunds_RollsBack(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 500_000, testNow.Add(48*time.Hour))
	topup(t, svc, "mentee-1", 100_000)

	_, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrInsufficientFunds)

	// everything rolled back: occurrence open, no booking, balance untouched
	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceOpen, occ.Status)
	assert.Empty(t, store.listBookings(func(b *models.Booking) bool { return true }))

	wallet, err := store.GetWalletByOwner(context.Background(), "mentee-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), wallet.BalanceMinor)
}

func TestCreateBooking_OccurrenceNotOpen(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(48*time.Hour))
	store.occurrences[occID].Status = models.OccurrenceReserved

	_, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrSlotNotAvailable)
}

func TestCreateBooking_PausedSlot(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(48*time.Hour))
	store.slots["slot-1"].Status = models.SlotPaused

	_, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrSlotNotAvailable)
}

func TestConfirmBooking(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(48*time.Hour))

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	confirmed, err := svc.ConfirmBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingConfirmed), confirmed.Status)

	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceBooked, occ.Status)

	// confirming twice is an invalid transition
	_, err = svc.ConfirmBooking(context.Background(), created.ID)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
}

func TestDeclineBooking_RefundsDebit(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 500_000, testNow.Add(48*time.Hour))
	topup(t, svc, "mentee-1", 500_000)

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	declined, err := svc.DeclineBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingDeclined), declined.Status)

	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceOpen, occ.Status)

	wallet, err := store.GetWalletByOwner(context.Background(), "mentee-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), wallet.BalanceMinor)

	var refunds int
	for _, wtx := range store.transactions {
		if wtx.Type == models.TxRefund {
			refunds++
			assert.Equal(t, "refund:"+created.ID+":1", wtx.ClientRequestID)
		}
	}
	assert.Equal(t, 1, refunds)
}

func TestCancelBooking_OutsideCutoff_Refunds(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 500_000, testNow.Add(48*time.Hour))
	topup(t, svc, "mentee-1", 500_000)

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingCancelled), cancelled.Status)

	wallet, _ := store.GetWalletByOwner(context.Background(), "mentee-1")
	assert.Equal(t, int64(500_000), wallet.BalanceMinor)
}

func TestCancelBooking_InsideCutoff_Forfeits(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 500_000, testNow.Add(2*time.Hour))
	topup(t, svc, "mentee-1", 500_000)

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.BookingCancelled), cancelled.Status)

	// inside the cutoff the debit is forfeited
	wallet, _ := store.GetWalletByOwner(context.Background(), "mentee-1")
	assert.Equal(t, int64(0), wallet.BalanceMinor)

	occ, _ := store.GetOccurrence(context.Background(), occID)
	assert.Equal(t, models.OccurrenceOpen, occ.Status)
}

func TestCancelBooking_AfterStart(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(time.Hour))

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }

	_, err = svc.CancelBooking(context.Background(), created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, response.ErrInvalidTransition)
}

func TestMarkAttendance(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(time.Hour))

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	// pending sessions have no attendance yet
	_, err = svc.MarkAttendance(context.Background(), created.ID, &api.AttendanceRequest{Side: "mentor"})
	assert.ErrorIs(t, err, response.ErrInvalidTransition)

	_, err = svc.ConfirmBooking(context.Background(), created.ID)
	require.NoError(t, err)

	_, err = svc.MarkAttendance(context.Background(), created.ID, &api.AttendanceRequest{Side: "mentor"})
	require.NoError(t, err)

	stored, _ := store.GetBooking(context.Background(), created.ID)
	require.NotNil(t, stored.MentorAttended)
	assert.True(t, *stored.MentorAttended)
	assert.Nil(t, stored.MenteeAttended)
}

func TestSubmitReview(t *testing.T) {
	svc, store := newTestService()
	svc.now = func() time.Time { return testNow }
	occID := seedOccurrence(store, 0, testNow.Add(time.Hour))

	created, err := svc.CreateBooking(context.Background(), &api.BookingRequest{
		OccurrenceID: occID,
		MenteeID:     "mentee-1",
	})
	require.NoError(t, err)

	_, err = svc.SubmitReview(context.Background(), created.ID, &api.ReviewRequest{Rating: 5})
	assert.ErrorIs(t, err, response.ErrInvalidTransition)

	store.bookings[created.ID].Status = models.BookingCompleted

	_, err = svc.SubmitReview(context.Background(), created.ID, &api.ReviewRequest{Rating: 0})
	assert.ErrorIs(t, err, response.ErrValidation)

	reviewed, err := svc.SubmitReview(context.Background(), created.ID, &api.ReviewRequest{Rating: 5, Review: "great session"})
	require.NoError(t, err)
	require.NotNil(t, reviewed.Rating)
	assert.Equal(t, 5, *reviewed.Rating)
}
