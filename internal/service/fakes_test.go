package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mentorme-service/internal/config"
	"mentorme-service/internal/models"
	"mentorme-service/internal/notify"
	"mentorme-service/pkg/response"
)

// fakeStore keeps everything in maps and implements both Store and Tx.
// WithinTx snapshots the state and restores it when fn fails, matching the
// rollback behavior of the real storage.
type fakeStore struct {
	mu           sync.Mutex
	seq          int
	slots        map[string]*models.AvailabilitySlot
	occurrences  map[string]*models.Occurrence
	bookings     map[string]*models.Booking
	wallets      map[string]*models.Wallet // keyed by owner id
	transactions []*models.WalletTransaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots:       make(map[string]*models.AvailabilitySlot),
		occurrences: make(map[string]*models.Occurrence),
		bookings:    make(map[string]*models.Booking),
		wallets:     make(map[string]*models.Wallet),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	snap := f.snapshot()
	f.mu.Unlock()

	if err := fn(&fakeTx{f}); err != nil {
		f.mu.Lock()
		f.restore(snap)
		f.mu.Unlock()
		return err
	}
	return nil
}

// fakeTx shadows the slot status update, which takes no expected-from status
// inside a transaction.
type fakeTx struct {
	*fakeStore
}

func (t *fakeTx) UpdateSlotStatus(ctx context.Context, slotID string, to models.SlotStatus) error {
	return t.txUpdateSlotStatus(slotID, to)
}

type fakeSnapshot struct {
	slots        map[string]*models.AvailabilitySlot
	occurrences  map[string]*models.Occurrence
	bookings     map[string]*models.Booking
	wallets      map[string]*models.Wallet
	transactions []*models.WalletTransaction
}

func (f *fakeStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		slots:       make(map[string]*models.AvailabilitySlot, len(f.slots)),
		occurrences: make(map[string]*models.Occurrence, len(f.occurrences)),
		bookings:    make(map[string]*models.Booking, len(f.bookings)),
		wallets:     make(map[string]*models.Wallet, len(f.wallets)),
	}
	for k, v := range f.slots {
		c := *v
		snap.slots[k] = &c
	}
	for k, v := range f.occurrences {
		c := *v
		snap.occurrences[k] = &c
	}
	for k, v := range f.bookings {
		c := *v
		snap.bookings[k] = &c
	}
	for k, v := range f.wallets {
		c := *v
		snap.wallets[k] = &c
	}
	snap.transactions = make([]*models.WalletTransaction, len(f.transactions))
	for i, v := range f.transactions {
		c := *v
		snap.transactions[i] = &c
	}
	return snap
}

func (f *fakeStore) restore(snap fakeSnapshot) {
	f.slots = snap.slots
	f.occurrences = snap.occurrences
	f.bookings = snap.bookings
	f.wallets = snap.wallets
	f.transactions = snap.transactions
}

// #### slots ####

func (f *fakeStore) CreateSlot(ctx context.Context, slot *models.AvailabilitySlot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := *slot
	c.ID = f.nextID("slot")
	c.CreatedAt = time.Now().UTC()
	f.slots[c.ID] = &c
	return c.ID, nil
}

func (f *fakeStore) GetSlot(ctx context.Context, id string) (*models.AvailabilitySlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeStore) UpdateSlotStatus(ctx context.Context, id string, from, to models.SlotStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[id]
	if !ok {
		return response.ErrNotFound
	}
	if s.Status != from {
		return response.ErrInvalidTransition
	}
	s.Status = to
	return nil
}

// #### occurrences ####

func (f *fakeStore) GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.occurrences[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (f *fakeStore) ListOccurrencesByMentor(ctx context.Context, mentorID string, from, to *time.Time) ([]*models.Occurrence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Occurrence
	for _, o := range f.occurrences {
		if o.MentorID != mentorID {
			continue
		}
		if from != nil && o.StartAt.Before(*from) {
			continue
		}
		if to != nil && o.StartAt.After(*to) {
			continue
		}
		c := *o
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (f *fakeStore) CountBlockingOccurrences(ctx context.Context, slotID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, o := range f.occurrences {
		if o.SlotID == slotID && (o.Status == models.OccurrenceReserved || o.Status == models.OccurrenceBooked) {
			n++
		}
	}
	return n, nil
}

// #### bookings ####

func (f *fakeStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return nil, response.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (f *fakeStore) listBookings(match func(*models.Booking) bool) []*models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.Booking
	for _, b := range f.bookings {
		if match(b) {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ListPaymentPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	return f.listBookings(func(b *models.Booking) bool {
		return b.Status == models.BookingPaymentPending && b.CreatedAt.Before(cutoff)
	}), nil
}

func (f *fakeStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	return f.listBookings(func(b *models.Booking) bool {
		return b.Status == models.BookingPending && b.CreatedAt.Before(cutoff)
	}), nil
}

func (f *fakeStore) ListConfirmedDueToStart(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	return f.listBookings(func(b *models.Booking) bool {
		return b.Status == models.BookingConfirmed && !b.StartAt.After(now)
	}), nil
}

func (f *fakeStore) ListRemindersDue(ctx context.Context, now time.Time, within time.Duration, flag ReminderFlag) ([]*models.Booking, error) {
	limit := now.Add(within)
	return f.listBookings(func(b *models.Booking) bool {
		if b.Status != models.BookingConfirmed {
			return false
		}
		if flag == Reminder24h && b.Reminded24h {
			return false
		}
		if flag == Reminder1h && b.Reminded1h {
			return false
		}
		return b.StartAt.After(now) && !b.StartAt.After(limit)
	}), nil
}

func (f *fakeStore) ListSessionsToFinish(ctx context.Context, cutoff time.Time) ([]*models.Booking, error) {
	return f.listBookings(func(b *models.Booking) bool {
		if b.Status != models.BookingConfirmed && b.Status != models.BookingInProgress {
			return false
		}
		return !b.EndAt.After(cutoff)
	}), nil
}

func (f *fakeStore) MarkReminded(ctx context.Context, bookingID string, flag ReminderFlag) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[bookingID]
	if !ok {
		return false, response.ErrNotFound
	}
	switch flag {
	case Reminder24h:
		if b.Reminded24h {
			return false, nil
		}
		b.Reminded24h = true
	case Reminder1h:
		if b.Reminded1h {
			return false, nil
		}
		b.Reminded1h = true
	}
	return true, nil
}

func (f *fakeStore) SetAttendance(ctx context.Context, bookingID string, side AttendanceSide) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[bookingID]
	if !ok {
		return response.ErrNotFound
	}
	yes := true
	if side == SideMentor {
		b.MentorAttended = &yes
	} else {
		b.MenteeAttended = &yes
	}
	return nil
}

func (f *fakeStore) SetReview(ctx context.Context, bookingID string, rating int, review *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[bookingID]
	if !ok {
		return response.ErrNotFound
	}
	b.Rating = &rating
	b.Review = review
	return nil
}

// #### wallet ####

func (f *fakeStore) GetWalletByOwner(ctx context.Context, ownerID string) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[ownerID]
	if !ok {
		return nil, response.ErrNotFound
	}
	c := *w
	return &c, nil
}

func (f *fakeStore) ListTransactions(ctx context.Context, ownerID string, cursor *string, limit int) ([]*models.WalletTransaction, *string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[ownerID]
	if !ok {
		return nil, nil, response.ErrNotFound
	}

	var all []*models.WalletTransaction
	for _, t := range f.transactions {
		if t.WalletID == w.ID {
			c := *t
			all = append(all, &c)
		}
	}
	// newest first
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if cursor != nil {
		for i, t := range all {
			if t.ID == *cursor {
				start = i + 1
				break
			}
		}
	}
	all = all[start:]

	var next *string
	if len(all) > limit {
		all = all[:limit]
		next = &all[limit-1].ID
	}
	return all, next, nil
}

// #### Tx ####

func (f *fakeStore) CreateOccurrence(ctx context.Context, occ *models.Occurrence) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := *occ
	c.ID = f.nextID("occ")
	f.occurrences[c.ID] = &c
	return c.ID, nil
}

func (f *fakeStore) GetOccurrenceForUpdate(ctx context.Context, id string) (*models.Occurrence, error) {
	return f.GetOccurrence(ctx, id)
}

func (f *fakeStore) UpdateOccurrenceStatus(ctx context.Context, id string, from, to models.OccurrenceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.occurrences[id]
	if !ok || o.Status != from {
		return response.ErrConflict
	}
	o.Status = to
	return nil
}

func (f *fakeStore) CancelOpenOccurrencesBySlot(ctx context.Context, slotID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for _, o := range f.occurrences {
		if o.SlotID == slotID && o.Status == models.OccurrenceOpen {
			o.Status = models.OccurrenceCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) txUpdateSlotStatus(id string, to models.SlotStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.slots[id]
	if !ok {
		return response.ErrNotFound
	}
	s.Status = to
	return nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, booking *models.Booking) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, b := range f.bookings {
		if b.OccurrenceID == booking.OccurrenceID && b.Status.IsActive() {
			return "", response.ErrDuplicateBooking
		}
	}

	c := *booking
	c.ID = f.nextID("booking")
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	f.bookings[c.ID] = &c
	return c.ID, nil
}

func (f *fakeStore) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return f.GetBooking(ctx, id)
}

func (f *fakeStore) UpdateBookingStatus(ctx context.Context, id string, to models.BookingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return response.ErrNotFound
	}
	b.Status = to
	return nil
}

func (f *fakeStore) SetBookingDebit(ctx context.Context, id string, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return response.ErrNotFound
	}
	b.DebitTxID = &txID
	return nil
}

func (f *fakeStore) IncRefundAttempts(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.bookings[id]
	if !ok {
		return 0, response.ErrNotFound
	}
	b.RefundAttempts++
	return b.RefundAttempts, nil
}

func (f *fakeStore) GetOrCreateWalletForUpdate(ctx context.Context, ownerID, currency string) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[ownerID]
	if !ok {
		w = &models.Wallet{
			ID:        f.nextID("wallet"),
			OwnerID:   ownerID,
			Currency:  currency,
			CreatedAt: time.Now().UTC(),
		}
		f.wallets[ownerID] = w
	}
	c := *w
	return &c, nil
}

func (f *fakeStore) FindTransactionByRequestID(ctx context.Context, walletID, clientRequestID string) (*models.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.transactions {
		if t.WalletID == walletID && t.ClientRequestID == clientRequestID {
			c := *t
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateWalletBalance(ctx context.Context, walletID string, balanceMinor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.wallets {
		if w.ID == walletID {
			w.BalanceMinor = balanceMinor
			return nil
		}
	}
	return response.ErrNotFound
}

func (f *fakeStore) InsertTransaction(ctx context.Context, wtx *models.WalletTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, t := range f.transactions {
		if t.WalletID == wtx.WalletID && t.ClientRequestID == wtx.ClientRequestID {
			return response.ErrConflict
		}
	}
	c := *wtx
	f.transactions = append(f.transactions, &c)
	return nil
}

// #### locker / gateway ####

type fakeLocker struct {
	mu     sync.Mutex
	held   map[string]bool
	denied bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.denied || l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) LockWait(ctx context.Context, key string, ttl, wait time.Duration) (bool, error) {
	return l.Lock(ctx, key, ttl)
}

func (l *fakeLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
	return nil
}

type fakeGateway struct {
	mu     sync.Mutex
	events []notify.Event
}

func (g *fakeGateway) Notify(ctx context.Context, event notify.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.events = append(g.events, event)
}

func testPolicy() config.Policy {
	return config.Policy{
		PaymentWindow:      15 * time.Minute,
		DecisionWindow:     24 * time.Hour,
		NoShowGrace:        15 * time.Minute,
		CancelCutoff:       24 * time.Hour,
		DefaultHorizonDays: 14,
		MaxHorizonDays:     90,
		DefaultCurrency:    "VND",
	}
}

func newTestService() (*Service, *fakeStore) {
	store := newFakeStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, newFakeLocker(), &fakeGateway{}, testPolicy(), log)
	return svc, store
}
