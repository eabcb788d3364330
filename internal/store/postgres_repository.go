/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL for the `banks`, `users` and `transactions`
 * tables backing the transfer service.
 *
 * @notes
 * - `transactions.transfer_id` carries a unique index; a violation is mapped
 *   to ErrDuplicateTransferReference so the ledger writer can treat it as the
 *   canonical duplicate signal when two submissions race past the read check.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/horizon-banking/transfer-service/internal/domain"
)

var (
	ErrUserNotFound               = errors.New("user not found")
	ErrBankNotFound               = errors.New("bank not found")
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrDuplicateTransferReference = errors.New("duplicate transfer reference")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const bankColumns = `id, user_id, item_id, account_id, access_token, funding_source_url, shareable_id, created_at, updated_at`

func scanBank(row pgx.Row) (*domain.Bank, error) {
	var bank domain.Bank
	err := row.Scan(
		&bank.ID,
		&bank.UserID,
		&bank.ItemID,
		&bank.AccountID,
		&bank.AccessToken,
		&bank.FundingSourceURL,
		&bank.ShareableID,
		&bank.CreatedAt,
		&bank.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBankNotFound
		}
		return nil, err
	}
	return &bank, nil
}

// CreateBank persists a newly linked bank account record.
func (r *PostgresRepository) CreateBank(ctx context.Context, bank *domain.Bank) error {
	query := `
		INSERT INTO banks (id, user_id, item_id, account_id, access_token, funding_source_url, shareable_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		bank.ID,
		bank.UserID,
		bank.ItemID,
		bank.AccountID,
		bank.AccessToken,
		bank.FundingSourceURL,
		bank.ShareableID,
	).Scan(&bank.CreatedAt, &bank.UpdatedAt)
}

// FindBankByID retrieves a bank record by its document id.
func (r *PostgresRepository) FindBankByID(ctx context.Context, bankID uuid.UUID) (*domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks WHERE id = $1`
	return scanBank(r.db.QueryRow(ctx, query, bankID))
}

// FindBankByAccountID retrieves a bank record by its aggregator account id.
func (r *PostgresRepository) FindBankByAccountID(ctx context.Context, accountID string) (*domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks WHERE account_id = $1`
	return scanBank(r.db.QueryRow(ctx, query, accountID))
}

// FindBanksByUserID retrieves all bank records owned by a user.
func (r *PostgresRepository) FindBanksByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBanks(rows)
}

// ListBanks retrieves every bank record, for the operator health listing.
func (r *PostgresRepository) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	query := `SELECT ` + bankColumns + ` FROM banks ORDER BY created_at`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBanks(rows)
}

func collectBanks(rows pgx.Rows) ([]domain.Bank, error) {
	var banks []domain.Bank
	for rows.Next() {
		bank, err := scanBank(rows)
		if err != nil {
			return nil, err
		}
		banks = append(banks, *bank)
	}
	return banks, rows.Err()
}

// UpdateBankFundingSource writes the resolved funding source URL onto a bank record.
func (r *PostgresRepository) UpdateBankFundingSource(ctx context.Context, bankID uuid.UUID, fundingSourceURL string) error {
	query := `UPDATE banks SET funding_source_url = $1, updated_at = NOW() WHERE id = $2`
	commandTag, err := r.db.Exec(ctx, query, fundingSourceURL, bankID)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() == 0 {
		return ErrBankNotFound
	}
	return nil
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, email, first_name, last_name, dwolla_customer_id, dwolla_customer_url FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.DwollaCustomerID,
		&user.DwollaCustomerURL,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SetUserDwollaCustomer records the provisioned rail customer identity on a user.
func (r *PostgresRepository) SetUserDwollaCustomer(ctx context.Context, userID uuid.UUID, customerID, customerURL string) error {
	query := `
		UPDATE users
		SET dwolla_customer_id = $1, dwolla_customer_url = $2, updated_at = NOW()
		WHERE id = $3
	`
	commandTag, err := r.db.Exec(ctx, query, customerID, customerURL, userID)
	if err != nil {
		return err
	}
	if commandTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreateTransaction persists a ledger record. A unique violation on the
// transfer reference index maps to ErrDuplicateTransferReference.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, name, amount, sender_id, sender_bank_id, receiver_id, receiver_bank_id, email, transfer_id, channel, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.ID,
		tx.Name,
		tx.Amount,
		tx.SenderID,
		tx.SenderBankID,
		tx.ReceiverID,
		tx.ReceiverBankID,
		tx.Email,
		tx.TransferID,
		tx.Channel,
		tx.Category,
	).Scan(&tx.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateTransferReference
		}
		return err
	}
	return nil
}

const transactionColumns = `id, name, amount, sender_id, sender_bank_id, receiver_id, receiver_bank_id, email, transfer_id, channel, category, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.Name,
		&tx.Amount,
		&tx.SenderID,
		&tx.SenderBankID,
		&tx.ReceiverID,
		&tx.ReceiverBankID,
		&tx.Email,
		&tx.TransferID,
		&tx.Channel,
		&tx.Category,
		&tx.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByTransferID retrieves the ledger record carrying an exact
// transfer reference, the primary deduplication key.
func (r *PostgresRepository) FindTransactionByTransferID(ctx context.Context, transferID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_id = $1 LIMIT 1`
	return scanTransaction(r.db.QueryRow(ctx, query, transferID))
}

// FindLatestMatchingTransaction retrieves the most recent ledger record with
// the same sender bank, receiver bank, amount and name, for the
// recency-window duplicate check.
func (r *PostgresRepository) FindLatestMatchingTransaction(ctx context.Context, senderBankID, receiverBankID uuid.UUID, amount, name string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_bank_id = $1 AND receiver_bank_id = $2 AND amount = $3 AND name = $4
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanTransaction(r.db.QueryRow(ctx, query, senderBankID, receiverBankID, amount, name))
}
