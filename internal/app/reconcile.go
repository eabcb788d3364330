/**
 * @description
 * This file implements the operator-facing reconciliation and provisioning
 * operations: linking new bank accounts, reporting funding-source health,
 * repairing receiver endpoints, and provisioning send-capable funding
 * sources from raw bank account details.
 *
 * Key features:
 * - Health classification of every bank link: ok, missing, self_referential,
 *   or malformed.
 * - Receiver repair addressed by shareable id, with a distributed rate limit
 *   so a misfiring back-office script cannot hammer the rail.
 * - Personal funding source provisioning writes a bank record carrying the
 *   sentinel access token, so the platform's own sender account is
 *   addressable like any other.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - github.com/google/uuid: For new bank record ids.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/dwollaclient: For rail funding source provisioning.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/horizon-banking/transfer-service/internal/domain"
	"github.com/horizon-banking/transfer-service/internal/store"
)

// LinkBank exchanges an aggregator public token for a durable link, creates
// the bank record, and provisions its rail funding source immediately.
func (s *Service) LinkBank(ctx context.Context, req domain.LinkBankRequest) (*domain.LinkBankResult, error) {
	if req.UserID == uuid.Nil || strings.TrimSpace(req.PublicToken) == "" {
		return nil, fmt.Errorf("%w: user id and public token are required", ErrInvalidTransferRequest)
	}

	if _, err := s.repo.FindUserByID(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrIdentityNotProvisioned, req.UserID)
		}
		return nil, fmt.Errorf("failed to find user %s: %w", req.UserID, err)
	}

	exchange, err := s.plaidClient.ExchangePublicToken(ctx, strings.TrimSpace(req.PublicToken))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	accounts, err := s.plaidClient.GetAccounts(ctx, exchange.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for new link: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: link has no accounts", ErrUnlinkedAccount)
	}
	account := accounts[0]

	// One record per linked account; re-linking the same account resumes it.
	if existing, err := s.repo.FindBankByAccountID(ctx, account.AccountID); err == nil {
		log.Printf("LinkBank: Account %s already linked as bank %s", account.AccountID, existing.ID)
		fundingSourceURL, err := s.EnsureFundingSource(ctx, existing, "")
		if err != nil {
			return nil, err
		}
		return &domain.LinkBankResult{Bank: existing, FundingSourceURL: fundingSourceURL}, nil
	} else if !errors.Is(err, store.ErrBankNotFound) {
		return nil, fmt.Errorf("failed to check for existing link: %w", err)
	}

	bank := &domain.Bank{
		ID:          uuid.New(),
		UserID:      req.UserID,
		ItemID:      exchange.ItemID,
		AccountID:   account.AccountID,
		AccessToken: exchange.AccessToken,
		ShareableID: domain.EncodeShareableID(account.AccountID),
	}
	if err := s.repo.CreateBank(ctx, bank); err != nil {
		return nil, fmt.Errorf("failed to create bank record: %w", err)
	}
	log.Printf("LinkBank: Created bank %s for user %s (account %s)", bank.ID, req.UserID, account.AccountID)

	fundingSourceURL, err := s.EnsureFundingSource(ctx, bank, "")
	if err != nil {
		return nil, err
	}

	return &domain.LinkBankResult{Bank: bank, FundingSourceURL: fundingSourceURL}, nil
}

// GetReceiverHealth reports the funding-source health of one bank link,
// addressed by shareable id.
func (s *Service) GetReceiverHealth(ctx context.Context, shareableID string) (*domain.BankHealth, error) {
	accountID, err := domain.DecodeShareableID(shareableID)
	if err != nil {
		return nil, err
	}
	bank, err := s.repo.FindBankByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrBankNotFound) {
			return nil, ErrReceiverBankNotFound
		}
		return nil, fmt.Errorf("failed to find bank for account %s: %w", accountID, err)
	}
	health := s.bankHealth(bank)
	return &health, nil
}

// ListBankHealth reports the funding-source health of every bank link.
func (s *Service) ListBankHealth(ctx context.Context) ([]domain.BankHealth, error) {
	banks, err := s.repo.ListBanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}
	report := make([]domain.BankHealth, 0, len(banks))
	for i := range banks {
		report = append(report, s.bankHealth(&banks[i]))
	}
	return report, nil
}

// bankHealth classifies one bank record's funding-source state.
func (s *Service) bankHealth(bank *domain.Bank) domain.BankHealth {
	health := domain.BankHealth{
		BankID:         bank.ID,
		AccountID:      bank.AccountID,
		UserID:         bank.UserID,
		HasAccessToken: bank.HasAccessToken(),
		Status:         domain.FundingSourceMissing,
	}
	if bank.FundingSourceURL == nil || strings.TrimSpace(*bank.FundingSourceURL) == "" {
		return health
	}
	url := strings.TrimSpace(*bank.FundingSourceURL)
	health.HasFundingSource = true
	health.FundingSource = &url
	switch {
	case s.sourceFundingURL != "" && url == s.sourceFundingURL:
		health.Status = domain.FundingSourceSelfReferential
	case s.validateFundingSourceURL(url) != nil:
		health.Status = domain.FundingSourceMalformed
	default:
		health.Status = domain.FundingSourceHealthy
	}
	return health
}

// FixReceiver validates, creates, recreates, or force-overwrites the funding
// source of the bank link addressed by the request's shareable id.
func (s *Service) FixReceiver(ctx context.Context, req domain.FixReceiverRequest) (*domain.FixReceiverResult, error) {
	if s.rateLimiter != nil {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "fix_receiver", req.ShareableID, s.repairRateLimit, s.repairRateWindow)
		if err != nil {
			log.Printf("WARN: FixReceiver: Rate limiter unavailable: %v. Allowing request.", err)
		} else if count > s.repairRateLimit {
			return nil, fmt.Errorf("%w: retry after %d seconds", ErrRateLimited, retryAfter)
		}
	}

	accountID, err := domain.DecodeShareableID(req.ShareableID)
	if err != nil {
		return nil, err
	}
	bank, err := s.repo.FindBankByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrBankNotFound) {
			return nil, ErrReceiverBankNotFound
		}
		return nil, fmt.Errorf("failed to find bank for account %s: %w", accountID, err)
	}

	// Operator override: trust the supplied URL over anything resolvable.
	if req.ForceUpdate && strings.TrimSpace(req.NewFundingSourceURL) != "" {
		newURL := strings.TrimSpace(req.NewFundingSourceURL)
		if err := s.validateFundingSourceURL(newURL); err != nil {
			return nil, err
		}
		if bank.FundingSourceURL != nil && strings.TrimSpace(*bank.FundingSourceURL) == newURL {
			health := s.bankHealth(bank)
			return &domain.FixReceiverResult{Action: domain.RepairActionNone, Bank: health}, nil
		}
		if err := s.repo.UpdateBankFundingSource(ctx, bank.ID, newURL); err != nil {
			return nil, fmt.Errorf("failed to overwrite funding source for bank %s: %w", bank.ID, err)
		}
		bank.FundingSourceURL = &newURL
		log.Printf("FixReceiver: Operator overwrote funding source for bank %s", bank.ID)
		health := s.bankHealth(bank)
		return &domain.FixReceiverResult{Action: domain.RepairActionUpdated, Bank: health}, nil
	}

	before := s.bankHealth(bank)
	switch before.Status {
	case domain.FundingSourceHealthy:
		// Nothing to repair; report the endpoint as validated.
		return &domain.FixReceiverResult{Action: domain.RepairActionValidated, Bank: before}, nil
	case domain.FundingSourceMissing:
		if _, err := s.EnsureFundingSource(ctx, bank, s.sourceFundingURL); err != nil {
			return nil, err
		}
		health := s.bankHealth(bank)
		return &domain.FixReceiverResult{Action: domain.RepairActionCreated, Bank: health}, nil
	default:
		// Self-referential or malformed: provision a replacement.
		if _, err := s.recreateFundingSource(ctx, bank, s.sourceFundingURL); err != nil {
			return nil, err
		}
		health := s.bankHealth(bank)
		return &domain.FixReceiverResult{Action: domain.RepairActionRecreated, Bank: health}, nil
	}
}

// CreatePersonalFundingSource provisions a send-capable funding source from
// raw routing and account numbers, optionally materializing a bank record so
// the endpoint is addressable by shareable id.
func (s *Service) CreatePersonalFundingSource(ctx context.Context, req domain.PersonalFundingSourceRequest) (*domain.PersonalFundingSourceResult, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	routing := strings.TrimSpace(req.RoutingNumber)
	account := strings.TrimSpace(req.AccountNumber)
	if customerID == "" || routing == "" || account == "" {
		return nil, fmt.Errorf("%w: customerId, routingNumber and accountNumber are required", ErrInvalidTransferRequest)
	}
	accountType := strings.TrimSpace(req.BankAccountType)
	if accountType == "" {
		accountType = "checking"
	}
	name := strings.TrimSpace(req.BankName)
	if name == "" {
		name = fallbackFundingSourceLabel
	}

	fundingSourceURL, err := s.dwollaClient.CreateFundingSourceWithBankAccount(ctx, customerID, routing, account, accountType, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create personal funding source: %w", err)
	}
	resolved := strings.TrimSpace(fundingSourceURL)
	if err := s.validateFundingSourceURL(resolved); err != nil {
		return nil, err
	}
	log.Printf("CreatePersonalFundingSource: Provisioned %s for customer %s", resolved, customerID)

	result := &domain.PersonalFundingSourceResult{FundingSourceURL: resolved}
	if req.UserID == nil {
		return result, nil
	}

	// The record's external account id is derived from the funding source
	// itself; there is no aggregator link behind it.
	derivedAccountID := trailingSegment(resolved)

	if req.UpdateExisting {
		banks, err := s.repo.FindBanksByUserID(ctx, *req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list banks for user %s: %w", *req.UserID, err)
		}
		if len(banks) > 0 {
			bank := &banks[0]
			if err := s.repo.UpdateBankFundingSource(ctx, bank.ID, resolved); err != nil {
				return nil, fmt.Errorf("failed to update bank %s: %w", bank.ID, err)
			}
			bank.FundingSourceURL = &resolved
			result.Bank = bank
			result.ShareableID = &bank.ShareableID
			return result, nil
		}
	}

	shareableID := domain.EncodeShareableID(derivedAccountID)
	bank := &domain.Bank{
		ID:               uuid.New(),
		UserID:           *req.UserID,
		ItemID:           "personal-" + derivedAccountID,
		AccountID:        derivedAccountID,
		AccessToken:      domain.SentinelAccessToken,
		FundingSourceURL: &resolved,
		ShareableID:      shareableID,
	}
	if err := s.repo.CreateBank(ctx, bank); err != nil {
		return nil, fmt.Errorf("failed to create bank record: %w", err)
	}
	result.Bank = bank
	result.ShareableID = &shareableID
	return result, nil
}
