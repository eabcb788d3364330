/**
 * @description
 * This file implements the ledger writer: exactly one `transactions` record
 * per real-world transfer, under client retries and concurrent submissions.
 *
 * Deduplication is layered:
 * 1. Exact match on the rail's transfer reference.
 * 2. A recency window over (senderBank, receiverBank, amount, name) for
 *    retries where the reference could not be parsed.
 * 3. A unique index on transfer_id in the store; a violation there means a
 *    concurrent writer won, and the winner's record is returned.
 *
 * A failed duplicate LOOKUP never blocks creation: a possible duplicate
 * record is preferable to a transfer with no record at all.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/horizon-banking/transfer-service/internal/domain"
	"github.com/horizon-banking/transfer-service/internal/store"
)

// recordTransfer writes the ledger record for a completed rail transfer,
// returning an existing record instead when one already covers it.
func (s *Service) recordTransfer(ctx context.Context, params domain.CreateTransactionParams) (*domain.Transaction, error) {
	// 1. Primary key: the rail's transfer reference.
	if params.TransferID != nil && *params.TransferID != "" {
		existing, err := s.repo.FindTransactionByTransferID(ctx, *params.TransferID)
		if err == nil {
			log.Printf("recordTransfer: Transfer %s already recorded as transaction %s", *params.TransferID, existing.ID)
			return existing, nil
		}
		if !errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("WARN: recordTransfer: Duplicate lookup by reference %s failed: %v. Proceeding with creation.", *params.TransferID, err)
		}
	}

	// 2. Defense in depth: an equivalent record written moments ago is the
	// same transfer retried, even without a matching reference.
	recent, err := s.repo.FindLatestMatchingTransaction(ctx, params.SenderBankID, params.ReceiverBankID, params.Amount, params.Name)
	if err == nil {
		if time.Since(recent.CreatedAt) <= s.dedupWindow {
			log.Printf("recordTransfer: Matching transaction %s created %s ago, within the dedup window. Skipping creation.", recent.ID, time.Since(recent.CreatedAt).Round(time.Second))
			return recent, nil
		}
	} else if !errors.Is(err, store.ErrTransactionNotFound) {
		log.Printf("WARN: recordTransfer: Recency lookup failed: %v. Proceeding with creation.", err)
	}

	// 3. Create, with defaults for the bookkeeping tags.
	channel := params.Channel
	if channel == "" {
		channel = domain.DefaultChannel
	}
	category := params.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	txRecord := &domain.Transaction{
		ID:             uuid.New(),
		Name:           params.Name,
		Amount:         params.Amount,
		SenderID:       params.SenderID,
		SenderBankID:   params.SenderBankID,
		ReceiverID:     params.ReceiverID,
		ReceiverBankID: params.ReceiverBankID,
		Email:          params.Email,
		TransferID:     params.TransferID,
		Channel:        channel,
		Category:       category,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		// A unique violation on transfer_id means a concurrent writer got
		// there first. Their record is the canonical one.
		if errors.Is(err, store.ErrDuplicateTransferReference) && params.TransferID != nil {
			winner, readErr := s.repo.FindTransactionByTransferID(ctx, *params.TransferID)
			if readErr == nil {
				log.Printf("recordTransfer: Lost creation race for transfer %s to transaction %s", *params.TransferID, winner.ID)
				return winner, nil
			}
			return nil, fmt.Errorf("failed to read winning record for transfer %s: %w", *params.TransferID, readErr)
		}
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	return txRecord, nil
}
