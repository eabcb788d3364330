/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the transfer service needs. The interface decouples the business
 * logic from the PostgreSQL implementation and is what tests stub out.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/horizon-banking/transfer-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Bank link methods
	CreateBank(ctx context.Context, bank *domain.Bank) error
	FindBankByID(ctx context.Context, bankID uuid.UUID) (*domain.Bank, error)
	FindBankByAccountID(ctx context.Context, accountID string) (*domain.Bank, error)
	FindBanksByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Bank, error)
	ListBanks(ctx context.Context) ([]domain.Bank, error)
	UpdateBankFundingSource(ctx context.Context, bankID uuid.UUID, fundingSourceURL string) error

	// User identity methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	SetUserDwollaCustomer(ctx context.Context, userID uuid.UUID, customerID, customerURL string) error

	// Ledger methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByTransferID(ctx context.Context, transferID string) (*domain.Transaction, error)
	FindLatestMatchingTransaction(ctx context.Context, senderBankID, receiverBankID uuid.UUID, amount, name string) (*domain.Transaction, error)
}
