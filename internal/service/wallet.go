package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mentorme-service/api"
	"mentorme-service/internal/models"
	"mentorme-service/internal/notify"
	"mentorme-service/pkg/response"
)

type walletOp struct {
	Type            models.TransactionType
	OwnerID         string
	AmountMinor     int64
	Source          models.TransactionSource
	ClientRequestID string
	ReferenceType   *string
	ReferenceID     *string
}

// Credit adds funds to the owner's wallet. Replays of the same
// client_request_id return the original transaction untouched.
func (s *Service) Credit(ctx context.Context, req *api.TopupRequest) (*api.WalletOpResponse, error) {
	const op = "service.Credit"

	if err := validateWalletRequest(req.OwnerID, req.AmountMinor, req.ClientRequestID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		wtx        *models.WalletTransaction
		idempotent bool
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		wtx, idempotent, err = s.applyWalletOp(ctx, tx, walletOp{
			Type:            models.TxCredit,
			OwnerID:         req.OwnerID,
			AmountMinor:     req.AmountMinor,
			Source:          models.SourceManualTopup,
			ClientRequestID: req.ClientRequestID,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !idempotent {
		s.emit(ctx, notify.Event{
			Type:    "wallet.credited",
			Payload: map[string]any{"owner_id": req.OwnerID, "amount_minor": req.AmountMinor},
		})
	}

	return &api.WalletOpResponse{
		Idempotent:  idempotent,
		Transaction: *transactionToResponse(wtx),
	}, nil
}

// Debit removes funds from the owner's wallet. Fails with InsufficientFunds
// when the balance cannot cover the amount; no partial debit is ever applied.
func (s *Service) Debit(ctx context.Context, req *api.DebitRequest) (*api.WalletOpResponse, error) {
	const op = "service.Debit"

	if err := validateWalletRequest(req.OwnerID, req.AmountMinor, req.ClientRequestID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		wtx        *models.WalletTransaction
		idempotent bool
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		wtx, idempotent, err = s.applyWalletOp(ctx, tx, walletOp{
			Type:            models.TxDebit,
			OwnerID:         req.OwnerID,
			AmountMinor:     req.AmountMinor,
			Source:          models.SourceBookingPayment,
			ClientRequestID: req.ClientRequestID,
			ReferenceType:   req.ReferenceType,
			ReferenceID:     req.ReferenceID,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !idempotent {
		s.emit(ctx, notify.Event{
			Type:    "wallet.debited",
			Payload: map[string]any{"owner_id": req.OwnerID, "amount_minor": req.AmountMinor},
		})
	}

	return &api.WalletOpResponse{
		Idempotent:  idempotent,
		Transaction: *transactionToResponse(wtx),
	}, nil
}

func validateWalletRequest(ownerID string, amountMinor int64, clientRequestID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner_id: %w", response.ErrValidation)
	}
	if amountMinor <= 0 {
		return fmt.Errorf("amount_minor must be positive: %w", response.ErrValidation)
	}
	if clientRequestID == "" {
		return fmt.Errorf("client_request_id: %w", response.ErrValidation)
	}
	return nil
}

// applyWalletOp is the single mutation path for wallet balances: idempotency
// lookup, balance check, balance write and ledger append, all under the row
// lock held by the surrounding transaction. The bool result reports a replay.
func (s *Service) applyWalletOp(ctx context.Context, tx Tx, op walletOp) (*models.WalletTransaction, bool, error) {
	wallet, err := tx.GetOrCreateWalletForUpdate(ctx, op.OwnerID, s.policy.DefaultCurrency)
	if err != nil {
		return nil, false, fmt.Errorf("load wallet: %w", err)
	}

	existing, err := tx.FindTransactionByRequestID(ctx, wallet.ID, op.ClientRequestID)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	balanceBefore := wallet.BalanceMinor
	var balanceAfter int64

	switch op.Type {
	case models.TxCredit, models.TxRefund:
		balanceAfter = balanceBefore + op.AmountMinor
	case models.TxDebit:
		if balanceBefore < op.AmountMinor {
			return nil, false, response.ErrInsufficientFunds
		}
		balanceAfter = balanceBefore - op.AmountMinor
	default:
		return nil, false, fmt.Errorf("unknown transaction type %q", op.Type)
	}

	if err := tx.UpdateWalletBalance(ctx, wallet.ID, balanceAfter); err != nil {
		return nil, false, fmt.Errorf("update balance: %w", err)
	}

	wtx := &models.WalletTransaction{
		ID:                 uuid.New().String(),
		WalletID:           wallet.ID,
		Type:               op.Type,
		Source:             op.Source,
		AmountMinor:        op.AmountMinor,
		BalanceBeforeMinor: balanceBefore,
		BalanceAfterMinor:  balanceAfter,
		ClientRequestID:    op.ClientRequestID,
		ReferenceType:      op.ReferenceType,
		ReferenceID:        op.ReferenceID,
		CreatedAt:          s.now().UTC(),
	}
	if err := tx.InsertTransaction(ctx, wtx); err != nil {
		return nil, false, fmt.Errorf("append transaction: %w", err)
	}

	return wtx, false, nil
}

func (s *Service) GetWallet(ctx context.Context, ownerID string) (*api.WalletResponse, error) {
	const op = "service.GetWallet"

	if ownerID == "" {
		return nil, fmt.Errorf("%s: owner_id: %w", op, response.ErrValidation)
	}

	wallet, err := s.store.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &api.WalletResponse{
		ID:           wallet.ID,
		OwnerID:      wallet.OwnerID,
		BalanceMinor: wallet.BalanceMinor,
		Currency:     wallet.Currency,
	}, nil
}

// ListTransactions returns the owner's ledger history, newest first, with
// keyset pagination.
func (s *Service) ListTransactions(ctx context.Context, ownerID string, cursor *string, limit int) (*api.TransactionsPage, error) {
	const op = "service.ListTransactions"

	if ownerID == "" {
		return nil, fmt.Errorf("%s: owner_id: %w", op, response.ErrValidation)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	transactions, next, err := s.store.ListTransactions(ctx, ownerID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	page := &api.TransactionsPage{
		Transactions: make([]api.TransactionResponse, 0, len(transactions)),
		NextCursor:   next,
	}
	for _, wtx := range transactions {
		page.Transactions = append(page.Transactions, *transactionToResponse(wtx))
	}

	return page, nil
}

func transactionToResponse(wtx *models.WalletTransaction) *api.TransactionResponse {
	return &api.TransactionResponse{
		ID:                 wtx.ID,
		WalletID:           wtx.WalletID,
		Type:               string(wtx.Type),
		Source:             string(wtx.Source),
		AmountMinor:        wtx.AmountMinor,
		BalanceBeforeMinor: wtx.BalanceBeforeMinor,
		BalanceAfterMinor:  wtx.BalanceAfterMinor,
		ClientRequestID:    wtx.ClientRequestID,
		ReferenceType:      wtx.ReferenceType,
		ReferenceID:        wtx.ReferenceID,
		CreatedAt:          wtx.CreatedAt,
	}
}
