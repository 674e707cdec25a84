package api

import "time"

// Availability slots

type SlotCreateRequest struct {
	MentorID        string   `json:"mentor_id"`
	Title           string   `json:"title"`
	Timezone        string   `json:"timezone"`
	Start           *string  `json:"start,omitempty"`
	End             *string  `json:"end,omitempty"`
	RRule           *string  `json:"rrule,omitempty"`
	ExDates         []string `json:"exdates,omitempty"`
	BufferBeforeMin int      `json:"buffer_before_min"`
	BufferAfterMin  int      `json:"buffer_after_min"`
	Visibility      string   `json:"visibility"`
	HorizonDays     int      `json:"horizon_days"`
	PriceMinor      int64    `json:"price_minor"`
}

type SlotResponse struct {
	ID              string     `json:"id"`
	MentorID        string     `json:"mentor_id"`
	Title           string     `json:"title"`
	Timezone        string     `json:"timezone"`
	Start           *time.Time `json:"start,omitempty"`
	End             *time.Time `json:"end,omitempty"`
	RRule           *string    `json:"rrule,omitempty"`
	BufferBeforeMin int        `json:"buffer_before_min"`
	BufferAfterMin  int        `json:"buffer_after_min"`
	Visibility      string     `json:"visibility"`
	Status          string     `json:"status"`
	HorizonDays     int        `json:"horizon_days"`
	PriceMinor      int64      `json:"price_minor"`
}

type PublishRequest struct {
	HorizonDays  *int `json:"horizon_days,omitempty"`
	AllOrNothing bool `json:"all_or_nothing,omitempty"`
}

type PublishResponse struct {
	Published          bool    `json:"published"`
	OccurrencesCreated int     `json:"occurrences_created"`
	SkippedConflict    int     `json:"skipped_conflict"`
	RRule              *string `json:"rrule,omitempty"`
	HorizonDays        int     `json:"horizon_days"`
}

type ConflictInfo struct {
	OccurrenceID    string    `json:"occurrence_id"`
	SlotID          string    `json:"slot_id"`
	SlotTitle       string    `json:"slot_title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	BufferBeforeMin int       `json:"buffer_before_min"`
	BufferAfterMin  int       `json:"buffer_after_min"`
}

type ConflictCheckResponse struct {
	Conflicts []ConflictInfo `json:"conflicts"`
}

// Calendar

type OccurrenceResponse struct {
	ID       string    `json:"id"`
	SlotID   string    `json:"slot_id"`
	MentorID string    `json:"mentor_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Status   string    `json:"status"`
}

// Bookings

type BookingRequest struct {
	OccurrenceID string `json:"occurrence_id"`
	MenteeID     string `json:"mentee_id"`
}

type BookingResponse struct {
	ID           string    `json:"id"`
	OccurrenceID string    `json:"occurrence_id"`
	MentorID     string    `json:"mentor_id"`
	MenteeID     string    `json:"mentee_id"`
	Status       string    `json:"status"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	PriceMinor   int64     `json:"price_minor"`
	Rating       *int      `json:"rating,omitempty"`
	Review       *string   `json:"review,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type AttendanceRequest struct {
	Side string `json:"side"` // mentor | mentee
}

type ReviewRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review,omitempty"`
}

// Wallet

type TopupRequest struct {
	OwnerID         string `json:"owner_id"`
	AmountMinor     int64  `json:"amount_minor"`
	ClientRequestID string `json:"client_request_id"`
}

type DebitRequest struct {
	OwnerID         string  `json:"owner_id"`
	AmountMinor     int64   `json:"amount_minor"`
	ClientRequestID string  `json:"client_request_id"`
	PaymentMethodID *string `json:"payment_method_id,omitempty"`
	ReferenceType   *string `json:"reference_type,omitempty"`
	ReferenceID     *string `json:"reference_id,omitempty"`
}

type TransactionResponse struct {
	ID                 string    `json:"id"`
	WalletID           string    `json:"wallet_id"`
	Type               string    `json:"type"`
	Source             string    `json:"source"`
	AmountMinor        int64     `json:"amount_minor"`
	BalanceBeforeMinor int64     `json:"balance_before_minor"`
	BalanceAfterMinor  int64     `json:"balance_after_minor"`
	ClientRequestID    string    `json:"client_request_id"`
	ReferenceType      *string   `json:"reference_type,omitempty"`
	ReferenceID        *string   `json:"reference_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type WalletOpResponse struct {
	Idempotent  bool                `json:"idempotent"`
	Transaction TransactionResponse `json:"transaction"`
}

type WalletResponse struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	BalanceMinor int64  `json:"balance_minor"`
	Currency     string `json:"currency"`
}

type TransactionsPage struct {
	Transactions []TransactionResponse `json:"transactions"`
	NextCursor   *string               `json:"next_cursor,omitempty"`
}
