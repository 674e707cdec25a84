package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"mentorme-service/internal/models"
	"mentorme-service/pkg/response"
)

const transactionColumns = `
	id, wallet_id, tx_type, source, amount_minor, balance_before_minor,
	balance_after_minor, client_request_id, reference_type, reference_id, created_at`

func (s *Storage) GetWalletByOwner(ctx context.Context, ownerID string) (*models.Wallet, error) {
	const op = "storage.postgres.GetWalletByOwner"

	var w models.Wallet
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, balance_minor, currency, created_at FROM wallets WHERE owner_id=$1`,
		ownerID).
		Scan(&w.ID, &w.OwnerID, &w.BalanceMinor, &w.Currency, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &w, nil
}

// ListTransactions pages the ledger newest first. The cursor is the id of the
// last transaction of the previous page.
func (s *Storage) ListTransactions(ctx context.Context, ownerID string, cursor *string, limit int) ([]*models.WalletTransaction, *string, error) {
	const op = "storage.postgres.ListTransactions"

	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = (SELECT id FROM wallets WHERE owner_id=$1)`
	args := []any{ownerID}

	if cursor != nil && *cursor != "" {
		args = append(args, *cursor)
		query += fmt.Sprintf(`
		AND (created_at, id) < (SELECT created_at, id FROM wallet_transactions WHERE id=$%d)`, len(args))
	}

	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.WalletTransaction
	for rows.Next() {
		wtx, err := scanTransaction(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, wtx)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var next *string
	if len(out) > limit {
		out = out[:limit]
		next = &out[limit-1].ID
	}

	return out, next, nil
}

func scanTransaction(row rowScanner) (*models.WalletTransaction, error) {
	var (
		wtx     models.WalletTransaction
		txType  string
		source  string
		refType sql.NullString
		refID   sql.NullString
	)

	err := row.Scan(
		&wtx.ID, &wtx.WalletID, &txType, &source, &wtx.AmountMinor,
		&wtx.BalanceBeforeMinor, &wtx.BalanceAfterMinor, &wtx.ClientRequestID,
		&refType, &refID, &wtx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	wtx.Type = models.TransactionType(txType)
	wtx.Source = models.TransactionSource(source)
	if refType.Valid {
		wtx.ReferenceType = &refType.String
	}
	if refID.Valid {
		wtx.ReferenceID = &refID.String
	}
	wtx.CreatedAt = wtx.CreatedAt.UTC()

	return &wtx, nil
}

// #### transaction-scoped ####

// GetOrCreateWalletForUpdate locks the wallet row for the rest of the
// transaction. A wallet is created lazily on first use.
func (t *txStore) GetOrCreateWalletForUpdate(ctx context.Context, ownerID, currency string) (*models.Wallet, error) {
	const op = "storage.postgres.GetOrCreateWalletForUpdate"

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_id, balance_minor, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (owner_id) DO NOTHING`,
		uuid.New().String(), ownerID, currency)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var w models.Wallet
	err = t.tx.QueryRowContext(ctx,
		`SELECT id, owner_id, balance_minor, currency, created_at FROM wallets WHERE owner_id=$1 FOR UPDATE`,
		ownerID).
		Scan(&w.ID, &w.OwnerID, &w.BalanceMinor, &w.Currency, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &w, nil
}

func (t *txStore) FindTransactionByRequestID(ctx context.Context, walletID, clientRequestID string) (*models.WalletTransaction, error) {
	const op = "storage.postgres.FindTransactionByRequestID"

	wtx, err := scanTransaction(t.tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE wallet_id=$1 AND client_request_id=$2`,
		walletID, clientRequestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return wtx, nil
}

func (t *txStore) UpdateWalletBalance(ctx context.Context, walletID string, balanceMinor int64) error {
	const op = "storage.postgres.UpdateWalletBalance"

	res, err := t.tx.ExecContext(ctx,
		`UPDATE wallets SET balance_minor=$2 WHERE id=$1`, walletID, balanceMinor)
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

func (t *txStore) InsertTransaction(ctx context.Context, wtx *models.WalletTransaction) error {
	const op = "storage.postgres.InsertTransaction"

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
		(id, wallet_id, tx_type, source, amount_minor, balance_before_minor,
		 balance_after_minor, client_request_id, reference_type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		wtx.ID, wtx.WalletID, string(wtx.Type), string(wtx.Source),
		wtx.AmountMinor, wtx.BalanceBeforeMinor, wtx.BalanceAfterMinor,
		wtx.ClientRequestID, wtx.ReferenceType, wtx.ReferenceID, wtx.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%s: %w", op, response.ErrConflict)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
