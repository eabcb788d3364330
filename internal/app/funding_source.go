/**
 * @description
 * This file implements funding source resolution: turning a stored bank
 * record into a rail funding-source URL that transfers can actually land on.
 *
 * Key features:
 * - Short-circuits on a cached, well-formed URL with zero external calls.
 * - Provisions the owning user's rail customer identity lazily; a
 *   duplicate-email rejection from the rail resolves to the existing customer.
 * - Mints a fresh processor token for the exact external account id, so the
 *   funding source is bound to the right account even for multi-account links.
 * - Treats the rail's duplicate-resource error as success (the existing URL).
 * - Guards against self-referential endpoints: a resolved URL equal to the
 *   known-good source is re-resolved once before the conflict is fatal.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/plaidclient, pkg/dwollaclient: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/horizon-banking/transfer-service/internal/domain"
	"github.com/horizon-banking/transfer-service/internal/store"
	"github.com/horizon-banking/transfer-service/pkg/dwollaclient"
	"github.com/horizon-banking/transfer-service/pkg/plaidclient"
)

// fallbackFundingSourceLabel is used when the aggregator's account listing
// cannot supply a human-readable name.
const fallbackFundingSourceLabel = "Checking Account"

// EnsureFundingSource resolves the funding source URL for a bank record,
// provisioning one on the rail when the record has none. knownGoodSourceURL
// is the endpoint money would be pulled FROM; a destination that resolves to
// the same endpoint would move money in a circle, so it is re-resolved once
// and then rejected.
//
// The self-reference check is a string comparison of endpoint URLs. That is
// deliberate: the rail has no cheap "same underlying account" query, and an
// equal URL is the only case the transfer API itself would accept and then
// silently no-op.
func (s *Service) EnsureFundingSource(ctx context.Context, bank *domain.Bank, knownGoodSourceURL string) (string, error) {
	cached := ""
	if bank.FundingSourceURL != nil {
		cached = strings.TrimSpace(*bank.FundingSourceURL)
	}

	// 1. Cached short-circuit: a present, well-formed URL that is not the
	// source endpoint needs no external calls.
	if cached != "" && s.validateFundingSourceURL(cached) == nil && cached != strings.TrimSpace(knownGoodSourceURL) {
		return cached, nil
	}

	if cached != "" && cached == strings.TrimSpace(knownGoodSourceURL) {
		log.Printf("WARN: EnsureFundingSource: Bank %s funding source equals the sender endpoint. Provisioning a fresh one.", bank.ID)
	}

	// 2. Provision a fresh endpoint on the rail.
	resolved, err := s.provisionFundingSource(ctx, bank)
	if err != nil {
		return "", err
	}

	// 3. Self-reference guard: a resolution equal to the source endpoint gets
	// exactly one retry; the cached value counts as the first resolution.
	knownGood := strings.TrimSpace(knownGoodSourceURL)
	if knownGood != "" && resolved == knownGood {
		if cached == knownGood {
			return "", fmt.Errorf("%w: bank %s resolves to %s", ErrSelfTransferConflict, bank.ID, resolved)
		}
		log.Printf("WARN: EnsureFundingSource: Bank %s resolved to the sender endpoint. Re-resolving once.", bank.ID)
		resolved, err = s.provisionFundingSource(ctx, bank)
		if err != nil {
			return "", err
		}
		if resolved == knownGood {
			return "", fmt.Errorf("%w: bank %s resolves to %s", ErrSelfTransferConflict, bank.ID, resolved)
		}
	}

	// 4. Write the URL through to the bank record, once.
	if cached != resolved {
		if err := s.repo.UpdateBankFundingSource(ctx, bank.ID, resolved); err != nil {
			return "", fmt.Errorf("failed to persist funding source for bank %s: %w", bank.ID, err)
		}
		bank.FundingSourceURL = &resolved
	}

	return resolved, nil
}

// recreateFundingSource bypasses the cache and provisions a fresh endpoint,
// used when the rail rejected the cached one.
func (s *Service) recreateFundingSource(ctx context.Context, bank *domain.Bank, knownGoodSourceURL string) (string, error) {
	resolved, err := s.provisionFundingSource(ctx, bank)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(knownGoodSourceURL) != "" && resolved == strings.TrimSpace(knownGoodSourceURL) {
		return "", fmt.Errorf("%w: bank %s resolves to %s", ErrSelfTransferConflict, bank.ID, resolved)
	}
	if err := s.repo.UpdateBankFundingSource(ctx, bank.ID, resolved); err != nil {
		return "", fmt.Errorf("failed to persist funding source for bank %s: %w", bank.ID, err)
	}
	bank.FundingSourceURL = &resolved
	return resolved, nil
}

// provisionFundingSource performs the external legwork: processor token from
// the aggregator, funding source creation on the rail.
func (s *Service) provisionFundingSource(ctx context.Context, bank *domain.Bank) (string, error) {
	if !bank.HasAccessToken() {
		return "", fmt.Errorf("%w: bank %s", ErrUnlinkedAccount, bank.ID)
	}

	user, err := s.repo.FindUserByID(ctx, bank.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return "", fmt.Errorf("%w: user %s", ErrIdentityNotProvisioned, bank.UserID)
		}
		return "", fmt.Errorf("failed to find bank owner %s: %w", bank.UserID, err)
	}

	customerID, err := s.ensureRailCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	processorToken, err := s.plaidClient.CreateProcessorToken(ctx, bank.AccessToken, bank.AccountID, plaidclient.ProcessorDwolla)
	if err != nil {
		return "", fmt.Errorf("failed to create processor token for bank %s: %w", bank.ID, err)
	}

	label := s.fundingSourceLabel(ctx, bank)

	authLinks, err := s.dwollaClient.CreateOnDemandAuthorization(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create on-demand authorization: %w", err)
	}

	fundingSourceURL, err := s.dwollaClient.CreateFundingSource(ctx, customerID, label, processorToken, authLinks)
	if err != nil {
		return "", fmt.Errorf("failed to create funding source for bank %s: %w", bank.ID, err)
	}

	resolved := strings.TrimSpace(fundingSourceURL)
	if err := s.validateFundingSourceURL(resolved); err != nil {
		return "", err
	}

	log.Printf("EnsureFundingSource: Provisioned funding source %s for bank %s", resolved, bank.ID)
	return resolved, nil
}

// ensureRailCustomer returns the user's rail customer id, provisioning one
// lazily. The customer id is the trailing segment of the customer URL.
func (s *Service) ensureRailCustomer(ctx context.Context, user *domain.User) (string, error) {
	if user.DwollaCustomerID != nil && strings.TrimSpace(*user.DwollaCustomerID) != "" {
		return strings.TrimSpace(*user.DwollaCustomerID), nil
	}

	if strings.TrimSpace(user.Email) == "" {
		return "", fmt.Errorf("%w: user %s has no email for customer creation", ErrIdentityNotProvisioned, user.ID)
	}

	customerURL, err := s.dwollaClient.CreateCustomer(ctx, dwollaclient.CustomerParams{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Type:      "personal",
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityNotProvisioned, err)
	}

	customerID := trailingSegment(customerURL)
	if customerID == "" {
		return "", fmt.Errorf("%w: unusable customer URL %q", ErrIdentityNotProvisioned, customerURL)
	}

	if err := s.repo.SetUserDwollaCustomer(ctx, user.ID, customerID, customerURL); err != nil {
		return "", fmt.Errorf("failed to persist rail customer for user %s: %w", user.ID, err)
	}
	user.DwollaCustomerID = &customerID
	user.DwollaCustomerURL = &customerURL

	log.Printf("EnsureFundingSource: Provisioned rail customer %s for user %s", customerID, user.ID)
	return customerID, nil
}

// fundingSourceLabel picks a human-readable name from the aggregator's
// account listing, falling back to a generic label. A listing failure is not
// fatal: the label is cosmetic.
func (s *Service) fundingSourceLabel(ctx context.Context, bank *domain.Bank) string {
	accounts, err := s.plaidClient.GetAccounts(ctx, bank.AccessToken)
	if err != nil {
		log.Printf("WARN: EnsureFundingSource: Could not list accounts for bank %s: %v. Using fallback label.", bank.ID, err)
		return fallbackFundingSourceLabel
	}
	for _, account := range accounts {
		if account.AccountID != bank.AccountID {
			continue
		}
		if name := strings.TrimSpace(account.Name); name != "" {
			return name
		}
		if name := strings.TrimSpace(account.OfficialName); name != "" {
			return name
		}
	}
	return fallbackFundingSourceLabel
}

// validateFundingSourceURL checks a URL has the rail's funding source shape:
// <railBase>/funding-sources/<id>.
func (s *Service) validateFundingSourceURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: empty URL", ErrMalformedEndpoint)
	}
	prefix := s.railBase + dwollaclient.FundingSourcesPath
	if !strings.HasPrefix(trimmed, prefix) {
		return fmt.Errorf("%w: %s", ErrMalformedEndpoint, trimmed)
	}
	id := strings.TrimPrefix(trimmed, prefix)
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %s", ErrMalformedEndpoint, trimmed)
	}
	return nil
}

// trailingSegment returns the last path segment of a URL, or "".
func trailingSegment(rawURL string) string {
	trimmed := strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
