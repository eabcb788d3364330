/**
 * @description
 * This file contains the core business logic for the transfer-service. The
 * `Service` struct orchestrates all money movement operations, coordinating
 * between the database repository, the Plaid bank-link client, the Dwolla
 * payment-rail client, and the message broker.
 *
 * Key features:
 * - Implements the main use case: P2P transfers addressed by shareable id.
 * - Resolves the destination funding source on demand before submitting.
 * - Retries a rejected transfer exactly once when the rail blames the
 *   destination endpoint, after recreating that endpoint.
 * - Writes one ledger record per transfer; a failed ledger write after a
 *   successful rail transfer is reported to operators instead of failing
 *   the call.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/shopspring/decimal: For amount validation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/plaidclient, pkg/dwollaclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/horizon-banking/transfer-service/internal/domain"
	"github.com/horizon-banking/transfer-service/internal/store"
	"github.com/horizon-banking/transfer-service/pkg/dwollaclient"
	"github.com/horizon-banking/transfer-service/pkg/plaidclient"
	"github.com/horizon-banking/transfer-service/pkg/rabbitmq"
)

// DefaultDedupWindow is how far back the ledger writer looks for an
// equivalent record when no transfer reference matches.
const DefaultDedupWindow = 5 * time.Minute

// RepairRateLimiter throttles operator repair requests.
type RepairRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for transfers and funding sources.
type Service struct {
	repo          store.Repository
	plaidClient   *plaidclient.Client
	dwollaClient  *dwollaclient.Client
	eventProducer rabbitmq.Publisher
	rateLimiter   RepairRateLimiter

	// sourceFundingURL is the platform's verified sender endpoint, pinned
	// per deployment. Every transfer debits this funding source.
	sourceFundingURL string
	// railBase is the payment rail's API base URL, used to validate the
	// shape of funding source URLs.
	railBase string

	dedupWindow      time.Duration
	repairRateLimit  int
	repairRateWindow time.Duration
}

// NewService creates a new transfer service instance.
func NewService(repo store.Repository, plaid *plaidclient.Client, dwolla *dwollaclient.Client, producer rabbitmq.Publisher, sourceFundingURL, railBase string) *Service {
	return &Service{
		repo:             repo,
		plaidClient:      plaid,
		dwollaClient:     dwolla,
		eventProducer:    producer,
		sourceFundingURL: strings.TrimSpace(sourceFundingURL),
		railBase:         strings.TrimSuffix(strings.TrimSpace(railBase), "/"),
		dedupWindow:      DefaultDedupWindow,
		repairRateLimit:  10,
		repairRateWindow: time.Minute,
	}
}

// SetDedupWindow overrides the ledger deduplication window.
func (s *Service) SetDedupWindow(window time.Duration) {
	if window > 0 {
		s.dedupWindow = window
	}
}

// SetRepairRateLimiter wires a distributed limiter for the repair endpoint.
func (s *Service) SetRepairRateLimiter(limiter RepairRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	if perMinute > 0 {
		s.repairRateLimit = perMinute
	}
}

// ProcessTransfer handles the logic for a peer-to-peer transfer from one of
// the sender's linked banks to a receiver addressed by shareable id.
func (s *Service) ProcessTransfer(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, error) {
	log.Printf("ProcessTransfer: Starting transfer from bank %s for amount %s", req.SenderBankID, req.Amount)

	// 1. Validate the request before touching anything external.
	amount, err := validateAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.SenderBankID == uuid.Nil {
		return nil, fmt.Errorf("%w: sender bank id is required", ErrInvalidTransferRequest)
	}
	receiverAccountID, err := domain.DecodeShareableID(req.ShareableID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransferRequest, err)
	}

	// 2. Load both sides of the transfer.
	senderBank, err := s.repo.FindBankByID(ctx, req.SenderBankID)
	if err != nil {
		if errors.Is(err, store.ErrBankNotFound) {
			return nil, ErrSenderBankNotFound
		}
		return nil, fmt.Errorf("failed to find sender bank: %w", err)
	}
	receiverBank, err := s.repo.FindBankByAccountID(ctx, receiverAccountID)
	if err != nil {
		if errors.Is(err, store.ErrBankNotFound) {
			return nil, ErrReceiverBankNotFound
		}
		return nil, fmt.Errorf("failed to find receiver bank: %w", err)
	}

	// 3. Resolve the destination endpoint. The source is the deployment's
	// pinned verified sender endpoint and is not resolved per call.
	sourceURL := s.sourceFundingURL
	destinationURL, err := s.EnsureFundingSource(ctx, receiverBank, sourceURL)
	if err != nil {
		return nil, err
	}

	if err := s.validateTransferEndpoints(sourceURL, destinationURL); err != nil {
		return nil, err
	}

	// 4. Submit to the rail, retrying once if the rail blames the
	// destination endpoint.
	location, err := s.dwollaClient.CreateTransfer(ctx, sourceURL, destinationURL, amount)
	if err != nil {
		railMessage, retryable := dwollaclient.DestinationInvalid(err)
		if !retryable {
			return nil, fmt.Errorf("%w: %v", ErrTransferRejected, err)
		}
		log.Printf("WARN: ProcessTransfer: Rail rejected destination %s (%s). Recreating funding source and retrying once.", destinationURL, railMessage)
		destinationURL, err = s.recreateFundingSource(ctx, receiverBank, sourceURL)
		if err != nil {
			return nil, err
		}
		if err := s.validateTransferEndpoints(sourceURL, destinationURL); err != nil {
			return nil, err
		}
		location, err = s.dwollaClient.CreateTransfer(ctx, sourceURL, destinationURL, amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferRejected, err)
		}
	}

	transferRef := transferReference(location)
	log.Printf("ProcessTransfer: Rail accepted transfer %s from bank %s to bank %s", transferRef, senderBank.ID, receiverBank.ID)

	// 5. Record the ledger entry. A failure here must not fail the transfer:
	// the money has already moved.
	txRecord, ledgerErr := s.recordTransfer(ctx, domain.CreateTransactionParams{
		Name:           req.Name,
		Amount:         amount,
		SenderID:       senderBank.UserID,
		SenderBankID:   senderBank.ID,
		ReceiverID:     receiverBank.UserID,
		ReceiverBankID: receiverBank.ID,
		Email:          req.Email,
		TransferID:     &transferRef,
	})
	if ledgerErr != nil {
		log.Printf("CRITICAL: ProcessTransfer: Rail transfer %s succeeded but ledger write failed: %v", transferRef, ledgerErr)
		if err := s.eventProducer.PublishLedgerRecordFailed(ctx, domain.LedgerRecordFailedPayload{
			TransferID:     transferRef,
			Amount:         amount,
			SenderBankID:   senderBank.ID,
			ReceiverBankID: receiverBank.ID,
			Error:          ledgerErr.Error(),
			Timestamp:      time.Now().UTC(),
		}); err != nil {
			log.Printf("WARN: ProcessTransfer: Failed to publish ledger failure event for %s: %v", transferRef, err)
		}
		// Report success with a minimal record so the caller sees the
		// transfer went through.
		return &domain.Transaction{
			Name:           req.Name,
			Amount:         amount,
			SenderID:       senderBank.UserID,
			SenderBankID:   senderBank.ID,
			ReceiverID:     receiverBank.UserID,
			ReceiverBankID: receiverBank.ID,
			Email:          req.Email,
			TransferID:     &transferRef,
			Channel:        domain.DefaultChannel,
			Category:       domain.DefaultCategory,
		}, nil
	}

	if err := s.eventProducer.PublishTransferCompleted(ctx, domain.TransferCompletedPayload{
		TransactionID: txRecord.ID,
		TransferID:    transferRef,
		Amount:        amount,
		SenderID:      senderBank.UserID,
		ReceiverID:    receiverBank.UserID,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		log.Printf("WARN: ProcessTransfer: Failed to publish completion event for %s: %v", transferRef, err)
	}

	return txRecord, nil
}

// validateAmount parses and normalizes a decimal amount string.
func validateAmount(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: amount is required", ErrInvalidTransferRequest)
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: amount %q is not a decimal", ErrInvalidTransferRequest, trimmed)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidTransferRequest)
	}
	return amount.StringFixed(2), nil
}

// validateTransferEndpoints checks both endpoints are usable before the rail
// sees them.
func (s *Service) validateTransferEndpoints(sourceURL, destinationURL string) error {
	if strings.TrimSpace(sourceURL) == "" || strings.TrimSpace(destinationURL) == "" {
		return fmt.Errorf("%w: missing funding source endpoint", ErrInvalidTransferRequest)
	}
	if err := s.validateFundingSourceURL(sourceURL); err != nil {
		return fmt.Errorf("%w: source endpoint %s", ErrInvalidTransferRequest, sourceURL)
	}
	if err := s.validateFundingSourceURL(destinationURL); err != nil {
		return fmt.Errorf("%w: destination endpoint %s", ErrInvalidTransferRequest, destinationURL)
	}
	return nil
}

// transferReference extracts the rail's transfer id from the returned
// location. An unparseable location falls back to a timestamp reference so
// the ledger record is still traceable.
func transferReference(location string) string {
	ref := trailingSegment(location)
	if ref == "" {
		return fmt.Sprintf("transfer-%d", time.Now().UnixMilli())
	}
	return ref
}
