package models

import "time"

type SlotStatus string

const (
	SlotDraft     SlotStatus = "draft"
	SlotPublished SlotStatus = "published"
	SlotPaused    SlotStatus = "paused"
	SlotArchived  SlotStatus = "archived"
)

type SlotVisibility string

const (
	SlotPublic  SlotVisibility = "public"
	SlotPrivate SlotVisibility = "private"
)

// AvailabilitySlot is a mentor-authored availability definition.
// Either StartAt/EndAt are set (one-off) or RRule is set (recurring), never neither.
type AvailabilitySlot struct {
	ID              string         `db:"id"`
	MentorID        string         `db:"mentor_id"`
	Title           string         `db:"title"`
	Timezone        string         `db:"timezone"`
	StartAt         *time.Time     `db:"start_at"`
	EndAt           *time.Time     `db:"end_at"`
	RRule           *string        `db:"rrule"`
	ExDates         []time.Time    `db:"exdates"`
	BufferBeforeMin int            `db:"buffer_before_min"`
	BufferAfterMin  int            `db:"buffer_after_min"`
	Visibility      SlotVisibility `db:"visibility"`
	Status          SlotStatus     `db:"status"`
	HorizonDays     int            `db:"horizon_days"`
	PriceMinor      int64          `db:"price_minor"`
	CreatedAt       time.Time      `db:"created_at"`
}

func (s *AvailabilitySlot) IsRecurring() bool {
	return s.RRule != nil && *s.RRule != ""
}

type OccurrenceStatus string

const (
	OccurrenceOpen      OccurrenceStatus = "open"
	OccurrenceReserved  OccurrenceStatus = "reserved"
	OccurrenceBooked    OccurrenceStatus = "booked"
	OccurrenceCancelled OccurrenceStatus = "cancelled"
)

// Occurrence is one concrete bookable time window derived from a slot.
// StartAt/EndAt are UTC instants.
type Occurrence struct {
	ID              string           `db:"id"`
	SlotID          string           `db:"slot_id"`
	MentorID        string           `db:"mentor_id"`
	StartAt         time.Time        `db:"start_at"`
	EndAt           time.Time        `db:"end_at"`
	BufferBeforeMin int              `db:"buffer_before_min"`
	BufferAfterMin  int              `db:"buffer_after_min"`
	Status          OccurrenceStatus `db:"status"`
}

// FootprintStart is the occurrence start expanded by the buffer-before window.
func (o *Occurrence) FootprintStart() time.Time {
	return o.StartAt.Add(-time.Duration(o.BufferBeforeMin) * time.Minute)
}

// FootprintEnd is the occurrence end expanded by the buffer-after window.
func (o *Occurrence) FootprintEnd() time.Time {
	return o.EndAt.Add(time.Duration(o.BufferAfterMin) * time.Minute)
}

type BookingStatus string

const (
	BookingPaymentPending BookingStatus = "payment_pending"
	BookingPending        BookingStatus = "pending"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingInProgress     BookingStatus = "in_progress"
	BookingCompleted      BookingStatus = "completed"
	BookingCancelled      BookingStatus = "cancelled"
	BookingDeclined       BookingStatus = "declined"
	BookingFailed         BookingStatus = "failed"
	BookingNoShow         BookingStatus = "no_show"
)

// IsTerminal reports whether the status is immutable.
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingCompleted, BookingCancelled, BookingDeclined, BookingFailed, BookingNoShow:
		return true
	}
	return false
}

// IsActive reports whether a booking in this status still occupies its occurrence.
func (s BookingStatus) IsActive() bool {
	return !s.IsTerminal()
}

type Booking struct {
	ID             string        `db:"id"`
	OccurrenceID   string        `db:"occurrence_id"`
	MentorID       string        `db:"mentor_id"`
	MenteeID       string        `db:"mentee_id"`
	Status         BookingStatus `db:"status"`
	StartAt        time.Time     `db:"start_at"`
	EndAt          time.Time     `db:"end_at"`
	PriceMinor     int64         `db:"price_minor"`
	DebitTxID      *string       `db:"debit_tx_id"`
	RefundAttempts int           `db:"refund_attempts"`
	Reminded24h    bool          `db:"reminded_24h"`
	Reminded1h     bool          `db:"reminded_1h"`
	MentorAttended *bool         `db:"mentor_attended"`
	MenteeAttended *bool         `db:"mentee_attended"`
	Rating         *int          `db:"rating"`
	Review         *string       `db:"review"`
	CreatedAt      time.Time     `db:"created_at"`
}

type TransactionType string

const (
	TxCredit TransactionType = "CREDIT"
	TxDebit  TransactionType = "DEBIT"
	TxRefund TransactionType = "REFUND"
)

type TransactionSource string

const (
	SourceManualTopup    TransactionSource = "MANUAL_TOPUP"
	SourceBookingPayment TransactionSource = "BOOKING_PAYMENT"
	SourcePayout         TransactionSource = "PAYOUT"
)

// Wallet balance is mutated only through ledger transactions and never goes negative.
type Wallet struct {
	ID           string    `db:"id"`
	OwnerID      string    `db:"owner_id"`
	BalanceMinor int64     `db:"balance_minor"`
	Currency     string    `db:"currency"`
	CreatedAt    time.Time `db:"created_at"`
}

// WalletTransaction is an append-only ledger row.
// (WalletID, ClientRequestID) is unique; replays return the original row.
type WalletTransaction struct {
	ID                 string            `db:"id"`
	WalletID           string            `db:"wallet_id"`
	Type               TransactionType   `db:"tx_type"`
	Source             TransactionSource `db:"source"`
	AmountMinor        int64             `db:"amount_minor"`
	BalanceBeforeMinor int64             `db:"balance_before_minor"`
	BalanceAfterMinor  int64             `db:"balance_after_minor"`
	ClientRequestID    string            `db:"client_request_id"`
	ReferenceType      *string           `db:"reference_type"`
	ReferenceID        *string           `db:"reference_id"`
	CreatedAt          time.Time         `db:"created_at"`
}
