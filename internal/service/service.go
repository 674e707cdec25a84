package service

import (
	"context"
	"log/slog"
	"time"

	"mentorme-service/internal/config"
	"mentorme-service/internal/lock"
	"mentorme-service/internal/models"
	"mentorme-service/internal/notify"
)

type Service struct {
	store   Store
	locker  lock.Locker
	gateway notify.Gateway
	policy  config.Policy
	log     *slog.Logger
	now     func() time.Time
}

func NewService(store Store, locker lock.Locker, gateway notify.Gateway, policy config.Policy, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		locker:  locker,
		gateway: gateway,
		policy:  policy,
		log:     log,
		now:     time.Now,
	}
}

// Store is the persistence surface. Reads outside a transaction see a
// snapshot per call; everything that mutates more than one row goes through
// WithinTx so a crash cannot split a state transition from its ledger entry.
type Store interface {
	// Availability slots
	CreateSlot(ctx context.Context, slot *models.AvailabilitySlot) (string, error)
	GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error)
	UpdateSlotStatus(ctx context.Context, id string, from, to models.SlotStatus) error

	// Occurrences
	GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error)
	ListOccurrencesByMentor(ctx context.Context, mentorID string, from, to *time.Time) ([]*models.Occurrence, error)
	CountBlockingOccurrences(ctx context.Context, slotID string) (int, error)

	// Bookings
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListPaymentPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error)
	ListConfirmedDueToStart(ctx context.Context, now time.Time) ([]*models.Booking, error)
	ListRemindersDue(ctx context.Context, now time.Time, within time.Duration, flag ReminderFlag) ([]*models.Booking, error)
	ListSessionsToFinish(ctx context.Context, cutoff time.Time) ([]*models.Booking, error)
	MarkReminded(ctx context.Context, bookingID string, flag ReminderFlag) (bool, error)
	SetAttendance(ctx context.Context, bookingID string, side AttendanceSide) error
	SetReview(ctx context.Context, bookingID string, rating int, review *string) error

	// Wallet
	GetWalletByOwner(ctx context.Context, ownerID string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, ownerID string, cursor *string, limit int) ([]*models.WalletTransaction, *string, error)

	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx groups the row-locked mutations available inside one transaction.
type Tx interface {
	CreateOccurrence(ctx context.Context, occ *models.Occurrence) (string, error)
	GetOccurrenceForUpdate(ctx context.Context, id string) (*models.Occurrence, error)
	UpdateOccurrenceStatus(ctx context.Context, id string, from, to models.OccurrenceStatus) error
	CancelOpenOccurrencesBySlot(ctx context.Context, slotID string) (int64, error)
	UpdateSlotStatus(ctx context.Context, slotID string, to models.SlotStatus) error

	CreateBooking(ctx context.Context, booking *models.Booking) (string, error)
	GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, to models.BookingStatus) error
	SetBookingDebit(ctx context.Context, id string, txID string) error
	IncRefundAttempts(ctx context.Context, id string) (int, error)

	GetOrCreateWalletForUpdate(ctx context.Context, ownerID, currency string) (*models.Wallet, error)
	FindTransactionByRequestID(ctx context.Context, walletID, clientRequestID string) (*models.WalletTransaction, error)
	UpdateWalletBalance(ctx context.Context, walletID string, balanceMinor int64) error
	InsertTransaction(ctx context.Context, wtx *models.WalletTransaction) error
}

type ReminderFlag string

const (
	Reminder24h ReminderFlag = "reminded_24h"
	Reminder1h  ReminderFlag = "reminded_1h"
)

type AttendanceSide string

const (
	SideMentor AttendanceSide = "mentor"
	SideMentee AttendanceSide = "mentee"
)

// emit hands an event to the notification gateway without blocking the
// owning transition.
func (s *Service) emit(ctx context.Context, event notify.Event) {
	go s.gateway.Notify(context.WithoutCancel(ctx), event)
}
